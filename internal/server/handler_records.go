package server

import (
	"bytes"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"sopdesk/internal/attach"
	"sopdesk/internal/export"
	"sopdesk/internal/records"
	"sopdesk/internal/response"
	"sopdesk/internal/validation"
)

type recordForm struct {
	ProductCode string `json:"product_code" validate:"required,productcode"`
	ProductName string `json:"product_name" validate:"max=255"`
	Status      string `json:"status" validate:"max=10000"`
	ChangeDesc  string `json:"change_desc" validate:"max=10000"`
}

type deleteRecordsRequest struct {
	Codes []string `json:"codes" validate:"required,min=1,dive,required"`
}

// queryFrom reads the keyword and sort order shared by list and export.
func queryFrom(r *http.Request) (records.Query, error) {
	q := r.URL.Query()
	order := q.Get("order")
	ve := &validation.ValidationErrors{}
	validation.ValidateEnum(ve, "order", order, validation.ValidSortOrders)
	if err := ve.Err(); err != nil {
		return records.Query{}, err
	}
	return records.Query{
		Keyword:       q.Get("q"),
		Ascending:     order == "asc",
		CaseSensitive: q.Get("case") == "sensitive",
	}, nil
}

func (a *App) handleListRecords(w http.ResponseWriter, r *http.Request) {
	q, err := queryFrom(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	list, err := a.Records.Query(r.Context(), q)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	response.JSONMeta(w, list, len(list))
}

func (a *App) handleGetRecord(w http.ResponseWriter, r *http.Request) {
	rec, err := a.Records.Get(r.Context(), r.PathValue("code"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	response.JSON(w, rec)
}

// multipartDocument returns the uploaded file under field, if any. The
// caller closes the returned file.
func multipartDocument(form *multipart.Form, field string) (multipart.File, string, error) {
	headers := form.File[field]
	if len(headers) == 0 {
		return nil, "", nil
	}
	fh := headers[0]
	f, err := fh.Open()
	if err != nil {
		return nil, "", fmt.Errorf("open upload %s: %w", field, err)
	}
	return f, fh.Filename, nil
}

func (a *App) handleCreateRecord(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, a.MaxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		response.Err(w, "invalid multipart form", http.StatusBadRequest)
		return
	}
	defer r.MultipartForm.RemoveAll()

	form := recordForm{
		ProductCode: r.FormValue("product_code"),
		ProductName: r.FormValue("product_name"),
		Status:      r.FormValue("status"),
		ChangeDesc:  r.FormValue("change_desc"),
	}
	if err := a.validate.Struct(form); err != nil {
		a.writeError(w, r, err)
		return
	}

	in := records.NewRecord{
		ProductCode: form.ProductCode,
		ProductName: form.ProductName,
		Status:      form.Status,
		ChangeDesc:  form.ChangeDesc,
		Documents:   map[attach.Category]records.Document{},
	}
	for _, c := range attach.Categories {
		f, name, err := multipartDocument(r.MultipartForm, string(c))
		if err != nil {
			a.writeError(w, r, err)
			return
		}
		if f == nil {
			continue
		}
		defer f.Close()
		in.Documents[c] = records.Document{Name: name, Body: f}
	}

	rec, err := a.Records.Create(r.Context(), SessionFrom(r.Context()), in)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	response.JSONStatus(w, http.StatusCreated, rec)
}

func (a *App) handleUpdateDocument(w http.ResponseWriter, r *http.Request) {
	c, err := attach.ParseCategory(r.PathValue("category"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, a.MaxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		response.Err(w, "invalid multipart form", http.StatusBadRequest)
		return
	}
	defer r.MultipartForm.RemoveAll()

	f, name, err := multipartDocument(r.MultipartForm, "file")
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	doc := records.Document{}
	if f != nil {
		defer f.Close()
		doc = records.Document{Name: name, Body: f}
	}

	rec, err := a.Records.UpdateAttachment(r.Context(), SessionFrom(r.Context()), r.PathValue("code"), c, doc)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	response.JSON(w, rec)
}

func (a *App) handleDownloadDocument(w http.ResponseWriter, r *http.Request) {
	c, err := attach.ParseCategory(r.PathValue("category"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	path, err := a.Records.AttachmentPath(r.Context(), r.PathValue("code"), c)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		response.Err(w, "document file is missing", http.StatusNotFound)
		return
	}
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filepath.Base(path)))
	http.ServeContent(w, r, filepath.Base(path), info.ModTime(), f)
}

func (a *App) handleDeleteRecord(w http.ResponseWriter, r *http.Request) {
	code := r.PathValue("code")
	n, err := a.Records.Delete(r.Context(), SessionFrom(r.Context()), code)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if n == 0 {
		a.writeError(w, r, records.ErrNotFound)
		return
	}
	response.JSON(w, map[string]int{"deleted": n})
}

func (a *App) handleBulkDeleteRecords(w http.ResponseWriter, r *http.Request) {
	var req deleteRecordsRequest
	if err := response.DecodeBody(r, &req); err != nil {
		response.Err(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := a.validate.Struct(req); err != nil {
		a.writeError(w, r, err)
		return
	}
	n, err := a.Records.Delete(r.Context(), SessionFrom(r.Context()), req.Codes...)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	response.JSON(w, map[string]int{"deleted": n})
}

func (a *App) handleExportRecords(w http.ResponseWriter, r *http.Request) {
	format := r.URL.Query().Get("format")
	if format == "" {
		format = export.FormatCSV
	}
	ve := &validation.ValidationErrors{}
	validation.ValidateEnum(ve, "format", format, validation.ValidExportFormats)
	if err := ve.Err(); err != nil {
		a.writeError(w, r, err)
		return
	}
	q, err := queryFrom(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	list, err := a.Records.Query(r.Context(), q)
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	// Buffer so an encoding failure can still produce an error status.
	var buf bytes.Buffer
	if err := export.Write(&buf, format, list); err != nil {
		a.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", export.ContentType(format))
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s", export.Filename(format, time.Now())))
	w.Write(buf.Bytes())
	a.logger().Info("Records exported", "format", format, "rows", len(list), "username", SessionFrom(r.Context()).Username)
}
