package bus

import (
	"fmt"
	"time"

	natsd "github.com/nats-io/nats-server/v2/server"
)

// StartEmbeddedNats runs a nats-server inside this process so a shared
// memory store works without any external infrastructure. Returns the
// client URL.
func StartEmbeddedNats(port int) (string, error) {

	opts := &natsd.Options{
		Host: "localhost",
		Port: port,
	}

	srv, err := natsd.NewServer(opts)
	if err != nil {
		return "", err
	}

	go srv.Start()

	if !srv.ReadyForConnections(5 * time.Second) {
		return "", fmt.Errorf("embedded nats-server did not become ready")
	}

	return srv.ClientURL(), nil
}
