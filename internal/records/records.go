// Package records implements the issue/record store: creation with SOP
// document attachment, per-document replacement, keyword query and deletion.
package records

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"sopdesk/internal/activity"
	"sopdesk/internal/attach"
	"sopdesk/internal/auth"
	"sopdesk/internal/database"
	"sopdesk/internal/metrics"
	"sopdesk/internal/models"
	"sopdesk/internal/validation"
)

var (
	ErrDuplicateCode = errors.New("product code already exists")
	ErrNotFound      = errors.New("record not found")
	ErrNoDocument    = errors.New("no document stored for this category")
)

// Document is one file to attach: a local file path, or a named stream
// (an HTTP upload).
type Document struct {
	Path string
	Name string
	Body io.Reader
}

// NewRecord is the input of Create.
type NewRecord struct {
	ProductCode string
	ProductName string
	Status      string
	ChangeDesc  string
	Documents   map[attach.Category]Document
}

// Query selects records. An empty Keyword matches everything. Matching is
// case-insensitive (ASCII) unless CaseSensitive or Service.CaseSensitive is
// set.
type Query struct {
	Keyword       string
	Ascending     bool
	CaseSensitive bool
}

// Service is the record store.
type Service struct {
	DB            *sql.DB
	Files         *attach.Store
	Log           *activity.Log
	Notifier      activity.Notifier
	Logger        *slog.Logger
	Now           func() time.Time
	CaseSensitive bool
}

// New creates a Service.
func New(db *sql.DB, files *attach.Store, log *activity.Log, n activity.Notifier, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{DB: db, Files: files, Log: log, Notifier: n, Logger: logger, Now: time.Now}
}

const selectColumns = `product_code, product_name, status, change_desc,
	dip_sop, assembly_sop, test_sop, packaging_sop, oqc_checklist, created_by, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (models.Record, error) {
	var r models.Record
	err := row.Scan(&r.ProductCode, &r.ProductName, &r.Status, &r.ChangeDesc,
		&r.DipSOP, &r.AssemblySOP, &r.TestSOP, &r.PackagingSOP, &r.OQCChecklist,
		&r.CreatedBy, &r.CreatedAt)
	return r, err
}

// DocumentPath returns the stored path of category c on r.
func DocumentPath(r *models.Record, c attach.Category) string {
	switch c {
	case attach.DipSOP:
		return r.DipSOP
	case attach.AssemblySOP:
		return r.AssemblySOP
	case attach.TestSOP:
		return r.TestSOP
	case attach.PackagingSOP:
		return r.PackagingSOP
	case attach.OQCChecklist:
		return r.OQCChecklist
	}
	return ""
}

func setDocumentPath(r *models.Record, c attach.Category, path string) {
	switch c {
	case attach.DipSOP:
		r.DipSOP = path
	case attach.AssemblySOP:
		r.AssemblySOP = path
	case attach.TestSOP:
		r.TestSOP = path
	case attach.PackagingSOP:
		r.PackagingSOP = path
	case attach.OQCChecklist:
		r.OQCChecklist = path
	}
}

func (s *Service) store(c attach.Category, d Document) (string, error) {
	if d.Path != "" {
		return s.Files.CopyFile(c, d.Path)
	}
	if d.Body == nil {
		return "", fmt.Errorf("%s: no file content", c)
	}
	return s.Files.Save(c, d.Name, d.Body)
}

func (s *Service) discard(paths ...string) {
	for _, p := range paths {
		if p == "" {
			continue
		}
		if err := s.Files.Remove(p); err != nil {
			s.Logger.Warn("could not remove document", "path", p, "error", err)
		}
	}
}

func (s *Service) notify(action string, id any) {
	if s.Notifier != nil {
		s.Notifier.BroadcastChange("record", action, id)
	}
}

func validateNewRecord(in *NewRecord) error {
	in.ProductCode = strings.TrimSpace(in.ProductCode)
	in.ProductName = strings.TrimSpace(in.ProductName)
	in.Status = strings.TrimSpace(in.Status)
	in.ChangeDesc = strings.TrimSpace(in.ChangeDesc)

	ve := &validation.ValidationErrors{}
	validation.ValidateProductCode(ve, "product_code", in.ProductCode)
	validation.ValidateMaxLength(ve, "product_name", in.ProductName, validation.MaxNameLength)
	validation.ValidateMaxLength(ve, "status", in.Status, validation.MaxTextLength)
	validation.ValidateMaxLength(ve, "change_desc", in.ChangeDesc, validation.MaxTextLength)
	for c, d := range in.Documents {
		if d.Path == "" && d.Body == nil {
			ve.Add(string(c), "no file given")
		}
	}
	return ve.Err()
}

// Create validates in, copies its documents into their category directories,
// and inserts the record. Nothing is inserted and no copies are left behind
// when any step fails.
func (s *Service) Create(ctx context.Context, sess *auth.Session, in NewRecord) (*models.Record, error) {
	if !sess.MayAdd() {
		return nil, auth.ErrForbidden
	}
	if err := validateNewRecord(&in); err != nil {
		return nil, err
	}

	exists, err := s.exists(ctx, in.ProductCode)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, ErrDuplicateCode
	}

	rec := models.Record{
		ProductCode: in.ProductCode,
		ProductName: in.ProductName,
		Status:      in.Status,
		ChangeDesc:  in.ChangeDesc,
		CreatedBy:   sess.Username,
		CreatedAt:   database.Timestamp(s.Now()),
	}

	var copied []string
	for _, c := range attach.Categories {
		d, ok := in.Documents[c]
		if !ok {
			continue
		}
		path, err := s.store(c, d)
		if err != nil {
			s.discard(copied...)
			return nil, fmt.Errorf("attach %s: %w", c, err)
		}
		copied = append(copied, path)
		setDocumentPath(&rec, c, path)
	}

	if err := s.insert(ctx, sess, &rec, copied); err != nil {
		s.discard(copied...)
		return nil, err
	}

	for _, c := range attach.Categories {
		if DocumentPath(&rec, c) != "" {
			metrics.DocumentsUploaded.WithLabelValues(string(c)).Inc()
		}
	}
	metrics.RecordsCreated.Inc()
	s.notify("create", rec.ProductCode)
	return &rec, nil
}

func (s *Service) insert(ctx context.Context, sess *auth.Session, rec *models.Record, copied []string) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `INSERT INTO issues (`+selectColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ProductCode, rec.ProductName, rec.Status, rec.ChangeDesc,
		rec.DipSOP, rec.AssemblySOP, rec.TestSOP, rec.PackagingSOP, rec.OQCChecklist,
		rec.CreatedBy, rec.CreatedAt)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			return ErrDuplicateCode
		}
		return fmt.Errorf("insert record: %w", err)
	}

	for _, p := range copied {
		if err := s.Log.Append(ctx, tx, sess.Username, models.ActionUpload, baseName(p)); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *Service) exists(ctx context.Context, code string) (bool, error) {
	var n int
	if err := s.DB.QueryRowContext(ctx, "SELECT COUNT(*) FROM issues WHERE product_code = ?", code).Scan(&n); err != nil {
		return false, fmt.Errorf("check product code: %w", err)
	}
	return n > 0, nil
}

// Get returns the record with product code code.
func (s *Service) Get(ctx context.Context, code string) (*models.Record, error) {
	row := s.DB.QueryRowContext(ctx, "SELECT "+selectColumns+" FROM issues WHERE product_code = ?", code)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get record: %w", err)
	}
	return &rec, nil
}

// UpdateAttachment replaces one document of an existing record. Only that
// path column and created_at change; the superseded file is removed.
func (s *Service) UpdateAttachment(ctx context.Context, sess *auth.Session, code string, c attach.Category, d Document) (*models.Record, error) {
	if !sess.MayAdd() {
		return nil, auth.ErrForbidden
	}
	if d.Path == "" && d.Body == nil {
		ve := &validation.ValidationErrors{}
		ve.Add(string(c), "no file given")
		return nil, ve
	}
	rec, err := s.Get(ctx, code)
	if err != nil {
		return nil, err
	}

	path, err := s.store(c, d)
	if err != nil {
		return nil, fmt.Errorf("attach %s: %w", c, err)
	}
	now := database.Timestamp(s.Now())

	previous, err := s.replace(ctx, sess, code, c, path, now)
	if err != nil {
		s.discard(path)
		return nil, err
	}

	if previous != "" && previous != path && s.Files.Owns(previous) {
		s.discard(previous)
	}

	setDocumentPath(rec, c, path)
	rec.CreatedAt = now
	metrics.DocumentsUploaded.WithLabelValues(string(c)).Inc()
	s.notify("update", code)
	return rec, nil
}

// replace points c's column at path and returns the path it superseded.
// The row is written before it is read so the transaction holds the write
// lock and a concurrent replace cannot read the same previous value.
func (s *Service) replace(ctx context.Context, sess *auth.Session, code string, c attach.Category, path, now string) (string, error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, "UPDATE issues SET created_at = ? WHERE product_code = ?", now, code)
	if err != nil {
		return "", fmt.Errorf("update record: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return "", ErrNotFound
	}

	// c.Column() is one of five fixed identifiers.
	var previous string
	if err := tx.QueryRowContext(ctx,
		"SELECT "+c.Column()+" FROM issues WHERE product_code = ?", code).Scan(&previous); err != nil {
		return "", fmt.Errorf("load %s: %w", c, err)
	}
	if _, err := tx.ExecContext(ctx,
		"UPDATE issues SET "+c.Column()+" = ? WHERE product_code = ?", path, code); err != nil {
		return "", fmt.Errorf("update %s: %w", c, err)
	}
	if err := s.Log.Append(ctx, tx, sess.Username, models.ActionUpload, baseName(path)); err != nil {
		return "", err
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit: %w", err)
	}
	return previous, nil
}

// Query returns the records whose product code, name, status or change
// description contain q.Keyword, ordered by created_at (newest first unless
// q.Ascending).
func (s *Service) Query(ctx context.Context, q Query) ([]models.Record, error) {
	sqlText := "SELECT " + selectColumns + " FROM issues"
	var args []any

	if kw := strings.TrimSpace(q.Keyword); kw != "" {
		cols := []string{"product_code", "product_name", "status", "change_desc"}
		conds := make([]string, len(cols))
		exact := s.CaseSensitive || q.CaseSensitive
		for i, col := range cols {
			if exact {
				conds[i] = "instr(" + col + ", ?) > 0"
				args = append(args, kw)
			} else {
				conds[i] = col + ` LIKE ? ESCAPE '\'`
				args = append(args, "%"+escapeLike(kw)+"%")
			}
		}
		sqlText += " WHERE " + strings.Join(conds, " OR ")
	}

	dir := "DESC"
	if q.Ascending {
		dir = "ASC"
	}
	sqlText += " ORDER BY created_at " + dir + ", product_code " + dir

	rows, err := s.DB.QueryContext(ctx, sqlText, args...)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	out := []models.Record{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// Delete removes the records with the given product codes and their stored
// documents, logging one delete entry per removed record. Unknown codes are
// skipped. It returns the number of records removed.
func (s *Service) Delete(ctx context.Context, sess *auth.Session, codes ...string) (int, error) {
	if !sess.MayDelete() {
		return 0, auth.ErrForbidden
	}

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var removed []string
	var files []string
	for _, code := range codes {
		row := tx.QueryRowContext(ctx, "SELECT "+selectColumns+" FROM issues WHERE product_code = ?", code)
		rec, err := scanRecord(row)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return 0, fmt.Errorf("load record %s: %w", code, err)
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM issues WHERE product_code = ?", code); err != nil {
			return 0, fmt.Errorf("delete record %s: %w", code, err)
		}
		if err := s.Log.Append(ctx, tx, sess.Username, models.ActionDelete, code); err != nil {
			return 0, err
		}
		removed = append(removed, code)
		for _, c := range attach.Categories {
			if p := DocumentPath(&rec, c); s.Files.Owns(p) {
				files = append(files, p)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}

	s.discard(files...)
	metrics.RecordsDeleted.Add(float64(len(removed)))
	for _, code := range removed {
		s.notify("delete", code)
	}
	return len(removed), nil
}

// ReferencedPaths returns every document path stored on any record.
func (s *Service) ReferencedPaths(ctx context.Context) (map[string]bool, error) {
	rows, err := s.DB.QueryContext(ctx,
		"SELECT dip_sop, assembly_sop, test_sop, packaging_sop, oqc_checklist FROM issues")
	if err != nil {
		return nil, fmt.Errorf("list document paths: %w", err)
	}
	defer rows.Close()

	refs := map[string]bool{}
	for rows.Next() {
		var p [5]string
		if err := rows.Scan(&p[0], &p[1], &p[2], &p[3], &p[4]); err != nil {
			return nil, err
		}
		for _, v := range p {
			if v != "" {
				refs[v] = true
			}
		}
	}
	return refs, rows.Err()
}

// AttachmentPath returns the stored path of one document of a record.
func (s *Service) AttachmentPath(ctx context.Context, code string, c attach.Category) (string, error) {
	rec, err := s.Get(ctx, code)
	if err != nil {
		return "", err
	}
	p := DocumentPath(rec, c)
	if p == "" {
		return "", ErrNoDocument
	}
	return p, nil
}

func baseName(path string) string {
	return filepath.Base(path)
}
