package sqlremote

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/roach88/replica/internal/model"
	"github.com/roach88/replica/internal/remote"
)

var _ remote.Remote = (*Server)(nil)

// idPrefixes name the server id space of each kind.
var idPrefixes = map[model.Kind]string{
	model.KindProduct:     "prod",
	model.KindSellerOrder: "ord",
	model.KindFAQQuestion: "faq",
	model.KindFAQAnswer:   "ans",
}

// searchFields are the payload fields List matches search text against.
var searchFields = map[model.Kind][]string{
	model.KindProduct:     {"name", "sku"},
	model.KindSellerOrder: {"order_number", "buyer_name", "tracking_number"},
	model.KindFAQQuestion: {"question", "product_name"},
	model.KindFAQAnswer:   {"body", "author_name"},
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Create inserts input as a new record with a server-assigned id at
// version 1.
func (s *Server) Create(ctx context.Context, kind model.Kind, input model.Payload) (remote.Result, error) {
	if err := s.delay(ctx); err != nil {
		return remote.Result{}, err
	}
	if err := s.takeFailure(); err != nil {
		return remote.Result{}, err
	}
	if input == nil || input.Kind() != kind {
		return remote.Result{}, &remote.Error{Status: 400, Message: fmt.Sprintf("payload is not a %s", kind)}
	}

	var (
		res    remote.Result
		events []model.PushEvent
	)
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		seq, err := nextSeq(ctx, tx, idPrefixes[kind])
		if err != nil {
			return err
		}
		id := model.Final(fmt.Sprintf("%s_%d", idPrefixes[kind], seq))

		p := input
		if o, ok := p.(model.SellerOrder); ok && o.OrderNumber == "" {
			o.OrderNumber = fmt.Sprintf("SO-%05d", seq)
			p = o
		}
		p, err = derive(ctx, tx, p)
		if err != nil {
			return err
		}
		if err := p.Validate(); err != nil {
			return unprocessable(err)
		}
		if err := insertRecord(ctx, tx, id, p, 1); err != nil {
			return err
		}
		res = remote.Result{Identity: id, Payload: p, Version: 1}

		ev, err := fullEvent(id, p, 1)
		if err != nil {
			return err
		}
		events = append(events, ev)

		if a, ok := p.(model.FAQAnswer); ok {
			qev, err := s.bumpAnswerCount(ctx, tx, a.QuestionID)
			if err != nil {
				return err
			}
			events = append(events, qev)
		}
		return nil
	})
	if err != nil {
		return remote.Result{}, err
	}
	s.publish(ctx, events)
	return res, nil
}

// Update applies patch to the stored record and bumps its version.
func (s *Server) Update(ctx context.Context, kind model.Kind, id model.Identity, patch model.Patch) (remote.Result, error) {
	if err := s.delay(ctx); err != nil {
		return remote.Result{}, err
	}
	if err := s.takeFailure(); err != nil {
		return remote.Result{}, err
	}

	var (
		res remote.Result
		ev  model.PushEvent
	)
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		cur, version, err := readRecord(ctx, tx, kind, id)
		if err != nil {
			return err
		}
		next, err := model.Apply(cur, patch)
		if err != nil {
			return unprocessable(err)
		}
		next, err = derive(ctx, tx, next)
		if err != nil {
			return err
		}
		if err := next.Validate(); err != nil {
			return unprocessable(err)
		}
		version++
		if err := updateRecord(ctx, tx, id, next, version); err != nil {
			return err
		}
		diff, err := diffPatch(cur, next)
		if err != nil {
			return err
		}
		res = remote.Result{Identity: id, Payload: next, Version: version}
		ev = model.PushEvent{Identity: id, Kind: kind, Patch: diff, Version: version}
		return nil
	})
	if err != nil {
		return remote.Result{}, err
	}
	s.publish(ctx, []model.PushEvent{ev})
	return res, nil
}

// Delete removes the record.
func (s *Server) Delete(ctx context.Context, kind model.Kind, id model.Identity) error {
	if err := s.delay(ctx); err != nil {
		return err
	}
	if err := s.takeFailure(); err != nil {
		return err
	}

	var version int64
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		_, v, err := readRecord(ctx, tx, kind, id)
		if err != nil {
			return err
		}
		version = v + 1
		_, err = tx.ExecContext(ctx, `DELETE FROM records WHERE kind = ? AND id = ?`, string(kind), id.ID())
		if err != nil {
			return fmt.Errorf("delete record: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.publish(ctx, []model.PushEvent{{Identity: id, Kind: kind, Version: version, Delete: true}})
	return nil
}

// List returns one page of kind, newest first. The cursor is a row offset.
// Derived statuses (low and out of stock) are not server filters; they
// match nothing here and are applied by the client's view.
func (s *Server) List(ctx context.Context, kind model.Kind, params remote.ListParams) (remote.Page, error) {
	if err := s.delay(ctx); err != nil {
		return remote.Page{}, err
	}
	if !kind.Valid() {
		return remote.Page{}, &remote.Error{Status: 400, Message: fmt.Sprintf("unknown kind %q", kind)}
	}

	limit := params.Limit
	if limit <= 0 {
		limit = DefaultPageSize
	}
	limit = min(limit, MaxPageSize)

	offset := 0
	if params.Cursor != "" {
		n, err := strconv.Atoi(params.Cursor)
		if err != nil || n < 0 {
			return remote.Page{}, &remote.Error{Status: 400, Message: fmt.Sprintf("invalid cursor %q", params.Cursor)}
		}
		offset = n
	}

	where := []string{"kind = ?"}
	args := []any{string(kind)}
	if params.Search != "" {
		var ors []string
		for _, f := range searchFields[kind] {
			ors = append(ors, fmt.Sprintf("LOWER(COALESCE(json_extract(payload, '$.%s'), '')) LIKE ? ESCAPE '\\'", f))
			args = append(args, "%"+escapeLike(strings.ToLower(params.Search))+"%")
		}
		where = append(where, "("+strings.Join(ors, " OR ")+")")
	}
	if params.Status != "" {
		where = append(where, "json_extract(payload, '$.status') = ?")
		args = append(args, params.Status)
	}
	if params.CategoryID != "" {
		where = append(where, "json_extract(payload, '$.category_id') = ?")
		args = append(args, params.CategoryID)
	}
	args = append(args, limit+1, offset)

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, version, payload FROM records
		WHERE `+strings.Join(where, " AND ")+`
		ORDER BY seq DESC
		LIMIT ? OFFSET ?
	`, args...)
	if err != nil {
		return remote.Page{}, fmt.Errorf("list %s: %w", kind, err)
	}
	defer rows.Close()

	var page remote.Page
	for rows.Next() {
		var (
			id      string
			version int64
			data    string
		)
		if err := rows.Scan(&id, &version, &data); err != nil {
			return remote.Page{}, fmt.Errorf("list %s: scan: %w", kind, err)
		}
		p, err := model.DecodePayload(kind, []byte(data))
		if err != nil {
			return remote.Page{}, fmt.Errorf("list %s: %w", kind, err)
		}
		page.Items = append(page.Items, remote.Result{Identity: model.Final(id), Payload: p, Version: version})
	}
	if err := rows.Err(); err != nil {
		return remote.Page{}, fmt.Errorf("list %s: %w", kind, err)
	}
	if len(page.Items) > limit {
		page.Items = page.Items[:limit]
		page.NextCursor = strconv.Itoa(offset + limit)
	}
	return page, nil
}

// Get returns one stored record.
func (s *Server) Get(ctx context.Context, kind model.Kind, id model.Identity) (remote.Result, error) {
	p, v, err := readRecord(ctx, s.db, kind, id)
	if err != nil {
		return remote.Result{}, err
	}
	return remote.Result{Identity: id, Payload: p, Version: v}, nil
}

func (s *Server) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func nextSeq(ctx context.Context, q querier, prefix string) (int64, error) {
	var n int64
	err := q.QueryRowContext(ctx, `
		INSERT INTO id_sequences (prefix, next) VALUES (?, 1)
		ON CONFLICT(prefix) DO UPDATE SET next = next + 1
		RETURNING next
	`, prefix).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("next id for %s: %w", prefix, err)
	}
	return n, nil
}

func readRecord(ctx context.Context, q querier, kind model.Kind, id model.Identity) (model.Payload, int64, error) {
	var (
		version int64
		data    string
	)
	err := q.QueryRowContext(ctx,
		`SELECT version, payload FROM records WHERE kind = ? AND id = ?`,
		string(kind), id.ID(),
	).Scan(&version, &data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, 0, notFound(kind, id)
	}
	if err != nil {
		return nil, 0, fmt.Errorf("read %s %s: %w", kind, id.ID(), err)
	}
	p, err := model.DecodePayload(kind, []byte(data))
	if err != nil {
		return nil, 0, err
	}
	return p, version, nil
}

func insertRecord(ctx context.Context, q querier, id model.Identity, p model.Payload, version int64) error {
	data, err := encodePayload(p)
	if err != nil {
		return err
	}
	_, err = q.ExecContext(ctx, `
		INSERT INTO records (kind, id, version, payload, seq)
		VALUES (?, ?, ?, ?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM records))
	`, string(p.Kind()), id.ID(), version, data)
	if err != nil {
		return fmt.Errorf("insert %s %s: %w", p.Kind(), id.ID(), err)
	}
	return nil
}

func updateRecord(ctx context.Context, q querier, id model.Identity, p model.Payload, version int64) error {
	data, err := encodePayload(p)
	if err != nil {
		return err
	}
	_, err = q.ExecContext(ctx,
		`UPDATE records SET version = ?, payload = ? WHERE kind = ? AND id = ?`,
		version, data, string(p.Kind()), id.ID(),
	)
	if err != nil {
		return fmt.Errorf("update %s %s: %w", p.Kind(), id.ID(), err)
	}
	return nil
}

func encodePayload(p model.Payload) (string, error) {
	obj, err := model.ToObject(p)
	if err != nil {
		return "", err
	}
	data, err := model.MarshalCanonical(obj)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// derive fills the fields the server owns: joined display names, default
// statuses and order totals.
func derive(ctx context.Context, q querier, p model.Payload) (model.Payload, error) {
	switch v := p.(type) {
	case model.Product:
		if v.Status == "" {
			v.Status = model.ProductDraft
		}
		name, err := categoryName(ctx, q, v.CategoryID)
		if err != nil {
			return nil, err
		}
		v.CategoryName = name
		return v, nil

	case model.SellerOrder:
		if v.Status == "" {
			v.Status = model.OrderPending
		}
		items := make([]model.OrderItem, len(v.Items))
		var total int64
		for i, it := range v.Items {
			if it.ProductID != "" && it.ProductName == "" {
				name, err := productName(ctx, q, it.ProductID)
				if err != nil {
					return nil, err
				}
				it.ProductName = name
			}
			total += it.Quantity * it.UnitPriceCents
			items[i] = it
		}
		v.Items = items
		if len(items) > 0 {
			v.TotalCents = total
		}
		return v, nil

	case model.FAQQuestion:
		if v.Status == "" {
			v.Status = model.QuestionUnanswered
		}
		name, err := productName(ctx, q, v.ProductID)
		if err != nil {
			return nil, err
		}
		v.ProductName = name
		return v, nil
	}
	return p, nil
}

func categoryName(ctx context.Context, q querier, id string) (string, error) {
	if id == "" {
		return "", nil
	}
	var name string
	err := q.QueryRowContext(ctx, `SELECT name FROM categories WHERE id = ?`, id).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return "", unprocessable(fmt.Errorf("unknown category %q", id))
	}
	if err != nil {
		return "", fmt.Errorf("read category %s: %w", id, err)
	}
	return name, nil
}

func productName(ctx context.Context, q querier, id string) (string, error) {
	if id == "" {
		return "", nil
	}
	p, _, err := readRecord(ctx, q, model.KindProduct, model.Final(id))
	if err != nil {
		var re *remote.Error
		if errors.As(err, &re) && re.Status == 404 {
			return "", unprocessable(fmt.Errorf("unknown product %q", id))
		}
		return "", err
	}
	return p.(model.Product).Name, nil
}

// bumpAnswerCount marks a question answered after an answer is created.
func (s *Server) bumpAnswerCount(ctx context.Context, tx *sql.Tx, questionID string) (model.PushEvent, error) {
	qid := model.Final(questionID)
	p, version, err := readRecord(ctx, tx, model.KindFAQQuestion, qid)
	if err != nil {
		return model.PushEvent{}, unprocessable(fmt.Errorf("unknown question %q", questionID))
	}
	q := p.(model.FAQQuestion)
	q.AnswerCount++
	if q.Status == model.QuestionUnanswered {
		q.Status = model.QuestionAnswered
	}
	version++
	if err := updateRecord(ctx, tx, qid, q, version); err != nil {
		return model.PushEvent{}, err
	}
	diff, err := diffPatch(p, q)
	if err != nil {
		return model.PushEvent{}, err
	}
	return model.PushEvent{Identity: qid, Kind: model.KindFAQQuestion, Patch: diff, Version: version}, nil
}

func fullEvent(id model.Identity, p model.Payload, version int64) (model.PushEvent, error) {
	obj, err := model.ToObject(p)
	if err != nil {
		return model.PushEvent{}, err
	}
	return model.PushEvent{Identity: id, Kind: p.Kind(), Patch: obj, Version: version}, nil
}

// diffPatch returns the patch that turns before into after: changed fields
// with their new value, removed fields as null.
func diffPatch(before, after model.Payload) (model.Patch, error) {
	a, err := model.ToObject(before)
	if err != nil {
		return nil, err
	}
	b, err := model.ToObject(after)
	if err != nil {
		return nil, err
	}
	patch := model.Patch{}
	for k, v := range b {
		old, ok := a[k]
		if ok && sameValue(old, v) {
			continue
		}
		patch[k] = v
	}
	for k := range a {
		if _, ok := b[k]; !ok {
			patch[k] = model.Null{}
		}
	}
	return patch, nil
}

func sameValue(a, b model.Value) bool {
	x, err1 := model.MarshalCanonical(a)
	y, err2 := model.MarshalCanonical(b)
	return err1 == nil && err2 == nil && string(x) == string(y)
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
