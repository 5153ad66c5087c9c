package server

import (
	"encoding/json"
	"errors"
	"html/template"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/banux/nxt-gallery/internal/catalog"
	"github.com/banux/nxt-gallery/internal/feed"
	"github.com/banux/nxt-gallery/internal/gallery"
	"github.com/banux/nxt-gallery/internal/serve"
	"github.com/banux/nxt-gallery/internal/upload"
)

// writeJSON writes v as a JSON response with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeMessage(w http.ResponseWriter, status int, success bool, message string) {
	writeJSON(w, status, map[string]any{"success": success, "message": message})
}

// writeError maps err onto a status code and writes it as a JSON failure.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	msg := "internal error"
	switch {
	case errors.Is(err, catalog.ErrUnauthorized):
		status, msg = http.StatusUnauthorized, err.Error()
	case catalog.IsValidation(err), catalog.IsPathOutsideBase(err):
		status, msg = http.StatusBadRequest, err.Error()
	case catalog.IsNotFound(err):
		status, msg = http.StatusNotFound, err.Error()
	case catalog.IsDuplicate(err):
		status, msg = http.StatusConflict, err.Error()
	default:
		s.logger.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"error", err.Error(),
		)
	}
	writeMessage(w, status, false, msg)
}

// pathID parses the {id} route variable.
func pathID(r *http.Request) (int64, error) {
	raw := mux.Vars(r)["id"]
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, &catalog.ValidationError{Field: "id", Message: "must be a positive integer"}
	}
	return id, nil
}

type categoryJSON struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	FolderPath string `json:"folder_path"`
	IsDefault  bool   `json:"is_default"`
}

func toCategoryJSON(c catalog.Category) categoryJSON {
	return categoryJSON{ID: c.ID, Name: c.Name, FolderPath: c.FolderPath, IsDefault: c.IsDefault}
}

type imageJSON struct {
	ID         int64     `json:"id"`
	Filename   string    `json:"filename"`
	URL        string    `json:"url"`
	CategoryID int64     `json:"category_id"`
	Category   string    `json:"category,omitempty"`
	UploadTime time.Time `json:"upload_time"`
	SortIndex  int       `json:"sort_index"`
	Size       *int64    `json:"size"`
	Width      *int      `json:"width"`
	Height     *int      `json:"height"`
}

func toImageJSON(v gallery.ImageView) imageJSON {
	return imageJSON{
		ID:         v.ID,
		Filename:   v.Filename,
		URL:        v.URL,
		CategoryID: v.CategoryID,
		Category:   v.CategoryName,
		UploadTime: v.UploadTime,
		SortIndex:  v.SortIndex,
		Size:       v.Size,
		Width:      v.Width,
		Height:     v.Height,
	}
}

// handleHealth responds to GET /health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.gallery.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleListCategories responds to GET /api/categories.
func (s *Server) handleListCategories(w http.ResponseWriter, r *http.Request) {
	cats, err := s.gallery.ListCategories(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := make([]categoryJSON, 0, len(cats))
	for _, c := range cats {
		out = append(out, toCategoryJSON(c))
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "categories": out})
}

// handleListImages responds to GET /api/categories/{id}/images.
// Query parameters: page, per_page, search, sort (asc|desc).
func (s *Server) handleListImages(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	q := r.URL.Query()
	query := catalog.ListQuery{
		CategoryID: id,
		Page:       queryInt(q.Get("page"), 1),
		PageSize:   queryInt(q.Get("per_page"), catalog.DefaultPageSize),
		Search:     q.Get("search"),
		Sort:       catalog.ParseSortDirection(q.Get("sort")),
	}

	list, err := s.gallery.ListImages(r.Context(), query)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	images := make([]imageJSON, 0, len(list.Items))
	for _, v := range list.Items {
		images = append(images, toImageJSON(v))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":      true,
		"images":       images,
		"current_page": list.Page,
		"per_page":     list.PageSize,
		"total_count":  list.TotalCount,
		"total_pages":  list.TotalPages,
	})
}

// queryInt parses a query value, returning def when it is absent or not
// an integer. Range clamping is left to the catalog.
func queryInt(raw string, def int) int {
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

// handleGetImage responds to GET /api/images/{id}.
func (s *Server) handleGetImage(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	v, err := s.gallery.GetImage(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "image": toImageJSON(*v)})
}

// handleDeleteImage responds to DELETE /api/images/{id}.
func (s *Server) handleDeleteImage(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if _, err := s.gallery.DeleteImage(r.Context(), s.capability(r), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeMessage(w, http.StatusOK, true, "image deleted")
}

// handleAddCategory creates a category from a JSON body or form fields
// "name" and "folder_path".
func (s *Server) handleAddCategory(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Name       string `json:"name"`
		FolderPath string `json:"folder_path"`
	}
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			s.writeError(w, r, &catalog.ValidationError{Field: "body", Message: "invalid JSON"})
			return
		}
	} else {
		if err := r.ParseForm(); err != nil {
			s.writeError(w, r, &catalog.ValidationError{Field: "body", Message: "invalid form"})
			return
		}
		in.Name, in.FolderPath = r.FormValue("name"), r.FormValue("folder_path")
	}

	cat, res, err := s.gallery.AddCategory(r.Context(), s.capability(r), in.Name, in.FolderPath)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"success":  true,
		"category": toCategoryJSON(*cat),
		"indexed":  res.Added,
	})
}

// handleDeleteCategory removes a category and its image records.
func (s *Server) handleDeleteCategory(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.gallery.DeleteCategory(r.Context(), s.capability(r), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeMessage(w, http.StatusOK, true, "category deleted")
}

// handleScanCategory reconciles a category with its folder.
func (s *Server) handleScanCategory(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.gallery.ScanCategory(r.Context(), s.capability(r), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"added":   res.Added,
		"removed": res.Removed,
		"total":   res.Total,
	})
}

// uploadFields are the multipart field names accepted for image files.
var uploadFields = []string{"images[]", "images", "file"}

// handleUpload accepts a multipart form with "category_id" and one or
// more files.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeMessage(w, http.StatusRequestEntityTooLarge, false, "upload too large")
			return
		}
		s.writeError(w, r, &catalog.ValidationError{Field: "body", Message: "malformed multipart form"})
		return
	}
	defer r.MultipartForm.RemoveAll()

	categoryID, _ := strconv.ParseInt(r.FormValue("category_id"), 10, 64)

	var headers []*multipart.FileHeader
	for _, field := range uploadFields {
		headers = append(headers, r.MultipartForm.File[field]...)
	}
	files := make([]upload.IncomingFile, 0, len(headers))
	for _, fh := range headers {
		f, err := fh.Open()
		if err != nil {
			s.logger.Warn("open multipart file failed", "filename", fh.Filename, "error", err.Error())
			files = append(files, upload.IncomingFile{Filename: fh.Filename})
			continue
		}
		defer f.Close()
		files = append(files, upload.IncomingFile{Filename: fh.Filename, Content: f})
	}

	res, err := s.gallery.Upload(r.Context(), s.capability(r), categoryID, files)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	skipped := make([]map[string]string, 0, len(res.Skipped))
	for _, sk := range res.Skipped {
		skipped = append(skipped, map[string]string{"filename": sk.Filename, "reason": sk.Reason})
	}
	status, msg := http.StatusOK, strconv.Itoa(len(res.Uploaded))+" file(s) uploaded"
	if !res.Succeeded() {
		status, msg = http.StatusBadRequest, "no files were uploaded"
	}
	uploaded := res.Uploaded
	if uploaded == nil {
		uploaded = []string{}
	}
	writeJSON(w, status, map[string]any{
		"success":  res.Succeeded(),
		"message":  msg,
		"uploaded": uploaded,
		"skipped":  skipped,
	})
}

// loginPageHTML is the standalone login form served at GET /login.
const loginPageHTML = `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="UTF-8"/>
  <meta name="viewport" content="width=device-width,initial-scale=1.0"/>
  <title>Login – nxt-gallery</title>
  <script src="https://cdn.tailwindcss.com"></script>
</head>
<body class="min-h-screen bg-gray-100 flex items-center justify-center">
  <div class="bg-white rounded-2xl shadow-lg p-8 w-full max-w-sm">
    <div class="flex flex-col items-center mb-6">
      <h1 class="text-xl font-bold text-gray-900">nxt-gallery</h1>
      <p class="text-sm text-gray-500 mt-1">Sign in to manage the gallery</p>
    </div>
    {{if .Error}}
    <div class="mb-4 px-3 py-2 bg-red-50 border border-red-200 rounded-lg text-sm text-red-700">
      {{.Error}}
    </div>
    {{end}}
    <form method="POST" action="/login">
      <input type="hidden" name="redirect" value="{{.Redirect}}"/>
      <div class="mb-4">
        <label class="block text-sm font-medium text-gray-700 mb-1" for="username">Username</label>
        <input id="username" name="username" type="text" autocomplete="username" autofocus required
          class="w-full px-3 py-2 border border-gray-300 rounded-lg text-sm"/>
      </div>
      <div class="mb-4">
        <label class="block text-sm font-medium text-gray-700 mb-1" for="password">Password</label>
        <input id="password" name="password" type="password" autocomplete="current-password" required
          class="w-full px-3 py-2 border border-gray-300 rounded-lg text-sm"/>
      </div>
      <button type="submit"
        class="w-full py-2 px-4 bg-blue-600 hover:bg-blue-700 text-white font-medium rounded-lg text-sm">
        Sign in
      </button>
    </form>
  </div>
</body>
</html>`

var loginPage = template.Must(template.New("login").Parse(loginPageHTML))

// handleLoginPage serves the GET /login HTML form.
func (s *Server) handleLoginPage(w http.ResponseWriter, r *http.Request) {
	if s.capability(r).Admin {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}
	s.renderLoginPage(w, safeRedirect(r.URL.Query().Get("redirect")), "")
}

// handleLoginPost checks the submitted credentials and starts a session.
func (s *Server) handleLoginPost(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeMessage(w, http.StatusBadRequest, false, "bad request")
		return
	}
	username := r.FormValue("username")
	redirect := safeRedirect(r.FormValue("redirect"))

	c, err := s.gallery.Login(r.Context(), username, r.FormValue("password"))
	if err != nil {
		if !errors.Is(err, catalog.ErrUnauthorized) {
			s.logger.Error("login failed", "error", err.Error())
		}
		s.renderLoginPage(w, redirect, "Incorrect username or password.")
		return
	}

	token, err := s.sessions.create(username, c)
	if err != nil {
		writeMessage(w, http.StatusInternalServerError, false, "internal error")
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(sessionDuration.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, redirect, http.StatusSeeOther)
}

// handleLogout ends the session.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if c, err := r.Cookie(sessionCookieName); err == nil {
		s.sessions.delete(c.Value)
	}
	http.SetCookie(w, &http.Cookie{
		Name:    sessionCookieName,
		Value:   "",
		Path:    "/",
		MaxAge:  -1,
		Expires: time.Unix(0, 0),
	})
	http.Redirect(w, r, "/login", http.StatusSeeOther)
}

// safeRedirect only allows local absolute paths.
func safeRedirect(target string) string {
	if target == "" || target[0] != '/' || strings.HasPrefix(target, "//") || strings.HasPrefix(target, `/\`) {
		return "/"
	}
	return target
}

func (s *Server) renderLoginPage(w http.ResponseWriter, redirect, errMsg string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if errMsg != "" {
		w.WriteHeader(http.StatusUnauthorized)
	}
	_ = loginPage.Execute(w, struct {
		Error    string
		Redirect string
	}{errMsg, redirect})
}

// handleCategoryFeed responds to GET /feeds/categories/{id} with an Atom
// feed of the category's newest images. Query parameter: page.
func (s *Server) handleCategoryFeed(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	cat, err := s.gallery.GetCategory(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	// Sort index 1 is the newest upload, so ascending lists newest first.
	list, err := s.gallery.ListImages(r.Context(), catalog.ListQuery{
		CategoryID: id,
		Page:       queryInt(r.URL.Query().Get("page"), 1),
		PageSize:   catalog.DefaultPageSize,
		Sort:       catalog.SortAsc,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	base := baseURL(r)
	images := make([]feed.Image, 0, len(list.Items))
	for _, v := range list.Items {
		images = append(images, feed.Image{
			Image:       v.Image,
			URL:         base + v.URL,
			ContentType: serve.ContentType(v.Filename),
			Size:        v.Size,
		})
	}
	f := feed.Build(feed.Page{
		Category:   *cat,
		Images:     images,
		Page:       list.Page,
		TotalPages: list.TotalPages,
		BaseURL:    base + r.URL.Path,
	})
	data, err := f.MarshalToXML()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", feed.MIMEAtomFeed+";charset=utf-8")
	_, _ = w.Write(data)
}

// baseURL returns scheme://host for r, honouring X-Forwarded-Proto.
func baseURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if p := r.Header.Get("X-Forwarded-Proto"); p == "http" || p == "https" {
		scheme = p
	}
	return scheme + "://" + r.Host
}
