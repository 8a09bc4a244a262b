package auth

import "sync"

// Memory is a mutable in-process Provider. Host applications that track
// sign-in themselves push transitions into it; tests drive it directly.
type Memory struct {
	m    sync.Mutex
	user *User
	next int
	obs  map[int]func(*User)
}

func NewMemory() *Memory {
	return &Memory{obs: make(map[int]func(*User))}
}

func (self *Memory) Current() *User {
	self.m.Lock()
	defer self.m.Unlock()
	return self.user
}

func (self *Memory) Observe(fn func(*User)) func() {
	self.m.Lock()
	id := self.next
	self.next++
	self.obs[id] = fn
	u := self.user
	self.m.Unlock()

	fn(u)

	var once sync.Once
	return func() {
		once.Do(func() {
			self.m.Lock()
			delete(self.obs, id)
			self.m.Unlock()
		})
	}
}

func (self *Memory) SignIn(uid string) {
	self.transition(&User{UID: uid})
}

func (self *Memory) SignOut() {
	self.transition(nil)
}

func (self *Memory) transition(u *User) {
	self.m.Lock()
	self.user = u
	fns := make([]func(*User), 0, len(self.obs))
	for _, fn := range self.obs {
		fns = append(fns, fn)
	}
	self.m.Unlock()

	for _, fn := range fns {
		fn(u)
	}
}

// Static is a Provider that is permanently signed in, for server side use
// where credentials come from the environment.
type Static struct {
	user User
}

func NewStatic(uid string) *Static {
	return &Static{user: User{UID: uid}}
}

func (self *Static) Current() *User { u := self.user; return &u }

func (self *Static) Observe(fn func(*User)) func() {
	u := self.user
	fn(&u)
	return func() {}
}
