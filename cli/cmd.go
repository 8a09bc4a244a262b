// Package cli talks to a live Firestore project from the command line,
// mostly for poking at data while developing bindings.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"

	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"

	"github.com/aep/firebind/query"
	"github.com/aep/firebind/store"
)

var log = slog.New(tint.NewHandler(os.Stderr, nil))

var (
	project string
	orderBy string
	desc    bool
	limit   int

	getCmd = &cobra.Command{
		Use:   "get [collection/id]",
		Short: "Get a document",
		Args:  cobra.ExactArgs(1),
		Run:   get,
	}

	queryCmd = &cobra.Command{
		Use:     "query [collection] [field==value ...]",
		Aliases: []string{"search", "find"},
		Short:   "Query a collection",
		Args:    cobra.MinimumNArgs(1),
		Run:     runQuery,
	}

	watchCmd = &cobra.Command{
		Use:   "watch [collection]",
		Short: "Stream a collection, printing every change",
		Args:  cobra.ExactArgs(1),
		Run:   watch,
	}

	putCmd = &cobra.Command{
		Use:   "put [collection/id]",
		Short: "Merge a JSON document from stdin",
		Args:  cobra.ExactArgs(1),
		Run:   put,
	}

	deleteCmd = &cobra.Command{
		Use:   "delete [collection/id]",
		Short: "Delete a document",
		Args:  cobra.ExactArgs(1),
		Run:   del,
	}
)

func RegisterCommands(root *cobra.Command) {
	root.PersistentFlags().StringVar(&project, "project", "", "GCP project id")

	queryCmd.Flags().StringVar(&orderBy, "order", "", "field to order by")
	queryCmd.Flags().BoolVar(&desc, "desc", false, "order descending")
	queryCmd.Flags().IntVar(&limit, "limit", 0, "max results")

	root.AddCommand(getCmd)
	root.AddCommand(queryCmd)
	root.AddCommand(watchCmd)
	root.AddCommand(putCmd)
	root.AddCommand(deleteCmd)
}

func getStore(ctx context.Context) *store.Firestore {
	if project == "" {
		project = os.Getenv("GOOGLE_CLOUD_PROJECT")
	}
	if project == "" {
		log.Error("no project id, pass --project or set GOOGLE_CLOUD_PROJECT")
		os.Exit(1)
	}

	st, err := store.NewFirestore(ctx, project)
	if err != nil {
		log.Error("connect failed", "err", err)
		os.Exit(1)
	}
	return st
}

func splitDocArg(arg string) (string, string) {
	i := strings.LastIndex(arg, "/")
	if i < 1 || i == len(arg)-1 {
		log.Error("argument must be collection/id", "got", arg)
		os.Exit(1)
	}
	return arg[:i], arg[i+1:]
}

// parseCond turns shell-friendly filter syntax like prio>=2 or
// done==false into a predicate.
func parseCond(arg string) (query.Predicate, error) {
	for _, op := range []string{"==", "!=", "<=", ">=", "<", ">"} {
		i := strings.Index(arg, op)
		if i < 1 {
			continue
		}
		field := arg[:i]
		raw := arg[i+len(op):]
		lit := parseLit(raw)

		switch op {
		case "==":
			return query.Eq(field, lit), nil
		case "!=":
			return query.Ne(field, lit), nil
		case "<=":
			return query.Lte(field, lit), nil
		case ">=":
			return query.Gte(field, lit), nil
		case "<":
			return query.Lt(field, lit), nil
		default:
			return query.Gt(field, lit), nil
		}
	}
	return query.Predicate{}, fmt.Errorf("no operator in %q", arg)
}

func parseLit(raw string) query.Literal {
	switch raw {
	case "null":
		return query.Null()
	case "true":
		return query.Bool(true)
	case "false":
		return query.Bool(false)
	}
	var n json.Number
	if err := json.Unmarshal([]byte(raw), &n); err == nil {
		if i, err := n.Int64(); err == nil {
			return query.Int(i)
		}
		if f, err := n.Float64(); err == nil {
			return query.Float(f)
		}
	}
	return query.Str(strings.Trim(raw, `"`))
}

func printDoc(doc store.Document) {
	out := make(map[string]any, len(doc.Data)+1)
	for k, v := range doc.Data {
		out[k] = v
	}
	out["id"] = doc.ID

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(out)
}

func get(cmd *cobra.Command, args []string) {
	ctx := context.Background()
	st := getStore(ctx)
	defer st.Close()

	collection, id := splitDocArg(args[0])

	doc, err := st.Get(ctx, collection, id, store.SourceDefault)
	if err != nil {
		log.Error("get failed", "err", err)
		os.Exit(1)
	}
	if doc == nil {
		log.Error("not found", "path", args[0])
		os.Exit(1)
	}
	printDoc(*doc)
}

func runQuery(cmd *cobra.Command, args []string) {
	ctx := context.Background()
	st := getStore(ctx)
	defer st.Close()

	var preds []query.Predicate
	for _, arg := range args[1:] {
		p, err := parseCond(arg)
		if err != nil {
			log.Error("bad filter", "err", err)
			os.Exit(1)
		}
		preds = append(preds, p)
	}
	if orderBy != "" {
		preds = append(preds, query.OrderBy(orderBy, desc))
	}
	if limit > 0 {
		preds = append(preds, query.Limit(limit))
	}

	docs, err := st.Query(ctx, args[0], query.Compile(preds), store.SourceDefault)
	if err != nil {
		log.Error("query failed", "err", err)
		os.Exit(1)
	}
	for _, doc := range docs {
		printDoc(doc)
	}
}

func watch(cmd *cobra.Command, args []string) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	st := getStore(ctx)
	defer st.Close()

	cancel, err := st.Listen(ctx, args[0], query.Compile(nil), func(docs []store.Document, err error) {
		if err != nil {
			log.Error("watch error", "err", err)
			return
		}
		fmt.Printf("--- %d documents\n", len(docs))
		for _, doc := range docs {
			printDoc(doc)
		}
	})
	if err != nil {
		log.Error("watch failed", "err", err)
		os.Exit(1)
	}
	defer cancel()

	<-ctx.Done()
}

func put(cmd *cobra.Command, args []string) {
	ctx := context.Background()
	st := getStore(ctx)
	defer st.Close()

	collection, id := splitDocArg(args[0])

	dec := json.NewDecoder(os.Stdin)
	dec.UseNumber()
	var data map[string]any
	if err := dec.Decode(&data); err != nil {
		log.Error("bad document on stdin", "err", err)
		os.Exit(1)
	}
	delete(data, "id")

	b := st.Batch()
	b.Set(collection, id, data)
	if err := b.Commit(ctx); err != nil {
		log.Error("put failed", "err", err)
		os.Exit(1)
	}
	fmt.Println(args[0])
}

func del(cmd *cobra.Command, args []string) {
	ctx := context.Background()
	st := getStore(ctx)
	defer st.Close()

	collection, id := splitDocArg(args[0])

	b := st.Batch()
	b.Delete(collection, id)
	if err := b.Commit(ctx); err != nil {
		log.Error("delete failed", "err", err)
		os.Exit(1)
	}
}
