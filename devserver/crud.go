package devserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/aep/firebind/query"
	"github.com/aep/firebind/store"
)

func (s *server) commit(ctx context.Context, collection string, b store.Batch) error {
	start := time.Now()
	err := b.Commit(ctx)
	storeCommitDuration.WithLabelValues(collection).Observe(time.Since(start).Seconds())
	return err
}

type queryRequest struct {
	Where []condition `json:"where"`
	Order []sortKey   `json:"order"`
	Limit int         `json:"limit"`
}

type condition struct {
	Field  string `json:"field"`
	Op     string `json:"op"`
	Values []any  `json:"values"`
}

type sortKey struct {
	Field string `json:"field"`
	Desc  bool   `json:"desc"`
}

func litFromJSON(v any) (query.Literal, error) {
	switch t := v.(type) {
	case nil:
		return query.Null(), nil
	case bool:
		return query.Bool(t), nil
	case string:
		return query.Str(t), nil
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return query.Int(i), nil
		}
		f, err := t.Float64()
		if err != nil {
			return query.Literal{}, fmt.Errorf("bad number %q", t.String())
		}
		return query.Float(f), nil
	case float64:
		return query.Float(t), nil
	default:
		return query.Literal{}, fmt.Errorf("unsupported literal type %T", v)
	}
}

var opNames = map[string]query.Op{
	"==":                 query.OpEq,
	"!=":                 query.OpNe,
	"<":                  query.OpLt,
	">":                  query.OpGt,
	"<=":                 query.OpLte,
	">=":                 query.OpGte,
	"in":                 query.OpIn,
	"not-in":             query.OpNotIn,
	"array-contains":     query.OpContains,
	"array-contains-any": query.OpContainsAny,
}

func (qr *queryRequest) predicates() ([]query.Predicate, error) {
	var preds []query.Predicate

	for _, c := range qr.Where {
		op, ok := opNames[c.Op]
		if !ok {
			return nil, fmt.Errorf("unknown operator %q", c.Op)
		}
		if len(c.Values) == 0 {
			return nil, fmt.Errorf("condition on %q has no values", c.Field)
		}
		lits := make([]query.Literal, 0, len(c.Values))
		for _, v := range c.Values {
			lit, err := litFromJSON(v)
			if err != nil {
				return nil, err
			}
			lits = append(lits, lit)
		}

		switch op {
		case query.OpIn:
			preds = append(preds, query.In(c.Field, lits...))
		case query.OpNotIn:
			preds = append(preds, query.NotIn(c.Field, lits...))
		case query.OpContainsAny:
			preds = append(preds, query.ContainsAny(c.Field, lits...))
		default:
			preds = append(preds, query.Where(c.Field, op, lits[0]))
		}
	}

	for _, o := range qr.Order {
		preds = append(preds, query.OrderBy(o.Field, o.Desc))
	}
	if qr.Limit > 0 {
		preds = append(preds, query.Limit(qr.Limit))
	}

	return preds, nil
}

func docJSON(doc store.Document) map[string]any {
	out := make(map[string]any, len(doc.Data)+1)
	for k, v := range doc.Data {
		out[k] = v
	}
	out["id"] = doc.ID
	return out
}

func (s *server) handleList(c echo.Context) error {
	collection := c.Param("collection")

	docs, err := s.st.Query(c.Request().Context(), collection, query.Compile(nil), store.SourceDefault)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	out := make([]map[string]any, 0, len(docs))
	for _, doc := range docs {
		out = append(out, docJSON(doc))
	}
	return c.JSON(http.StatusOK, out)
}

func (s *server) handleQuery(c echo.Context) error {
	collection := c.Param("collection")

	var req queryRequest
	if err := c.Bind(&req); err != nil {
		return err
	}

	preds, err := req.predicates()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	docs, err := s.st.Query(c.Request().Context(), collection, query.Compile(preds), store.SourceDefault)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	out := make([]map[string]any, 0, len(docs))
	for _, doc := range docs {
		out = append(out, docJSON(doc))
	}
	return c.JSON(http.StatusOK, out)
}

func (s *server) handleGetDocument(c echo.Context) error {
	collection := c.Param("collection")
	id := c.Param("id")

	doc, err := s.st.Get(c.Request().Context(), collection, id, store.SourceDefault)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if doc == nil {
		return echo.NewHTTPError(http.StatusNotFound, collection+"/"+id)
	}

	return c.JSON(http.StatusOK, docJSON(*doc))
}

func (s *server) handlePutDocument(c echo.Context) error {
	collection := c.Param("collection")
	id := c.Param("id")

	var data map[string]any
	if err := c.Bind(&data); err != nil {
		return err
	}
	delete(data, "id")

	b := s.st.Batch()
	b.Set(collection, id, data)
	if err := s.commit(c.Request().Context(), collection, b); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	return c.JSON(http.StatusOK, map[string]string{"id": id})
}

func (s *server) handleInsertDocument(c echo.Context) error {
	collection := c.Param("collection")

	var data map[string]any
	if err := c.Bind(&data); err != nil {
		return err
	}
	delete(data, "id")

	id := s.st.AllocateID(collection)
	b := s.st.Batch()
	b.Set(collection, id, data)
	if err := s.commit(c.Request().Context(), collection, b); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	return c.JSON(http.StatusOK, map[string]string{"id": id})
}

func (s *server) handleDeleteDocument(c echo.Context) error {
	collection := c.Param("collection")
	id := c.Param("id")

	b := s.st.Batch()
	b.Delete(collection, id)
	if err := s.commit(c.Request().Context(), collection, b); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	return c.NoContent(http.StatusNoContent)
}

// handleWatch streams the full result set of a collection as
// server-sent events, once on connect and again on every change.
func (s *server) handleWatch(c echo.Context) error {
	collection := c.Param("collection")

	res := c.Response()
	res.Header().Set(echo.HeaderContentType, "text/event-stream")
	res.Header().Set("Cache-Control", "no-cache")
	res.WriteHeader(http.StatusOK)

	ctx := c.Request().Context()
	snaps := make(chan []store.Document, 1)

	cancel, err := s.st.Listen(ctx, collection, query.Compile(nil), func(docs []store.Document, err error) {
		if err != nil {
			return
		}
		select {
		case snaps <- docs:
		default:
			// viewer is behind, drop the stale frame
			select {
			case <-snaps:
			default:
			}
			snaps <- docs
		}
	})
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return nil
		case docs := <-snaps:
			out := make([]map[string]any, 0, len(docs))
			for _, doc := range docs {
				out = append(out, docJSON(doc))
			}
			payload, err := json.Marshal(out)
			if err != nil {
				return err
			}
			if _, err := fmt.Fprintf(res, "data: %s\n\n", payload); err != nil {
				return nil
			}
			res.Flush()
		}
	}
}
