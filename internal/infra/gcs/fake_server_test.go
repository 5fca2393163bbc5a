package gcs

import (
	"encoding/json"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"
)

// objectResource is the JSON API object representation the client decodes.
type objectResource struct {
	Kind        string            `json:"kind,omitempty"`
	Bucket      string            `json:"bucket"`
	Name        string            `json:"name"`
	ContentType string            `json:"contentType,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	Size        string            `json:"size,omitempty"`
	Generation  string            `json:"generation,omitempty"`
	Updated     string            `json:"updated,omitempty"`
}

type fakeObject struct {
	resource objectResource
	body     []byte
}

// fakeGCS serves the slice of the Cloud Storage JSON and XML APIs the
// document store uses: multipart upload, list, media download and delete.
type fakeGCS struct {
	bucket string

	mu      sync.Mutex
	now     time.Time
	gen     int64
	objects map[string]*fakeObject
}

func newFakeGCS(t *testing.T, bucket string) (*fakeGCS, *httptest.Server) {
	t.Helper()
	f := &fakeGCS{
		bucket:  bucket,
		now:     time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC),
		objects: make(map[string]*fakeObject),
	}
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	return f, srv
}

func (f *fakeGCS) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	objectsPath := "/storage/v1/b/" + f.bucket + "/o"
	path := r.URL.Path
	switch {
	case r.Method == http.MethodPost && path == "/upload"+objectsPath:
		f.upload(w, r)
	case r.Method == http.MethodGet && path == objectsPath:
		f.list(w, r)
	case strings.HasPrefix(path, objectsPath+"/"):
		name := strings.TrimPrefix(path, objectsPath+"/")
		switch {
		case r.Method == http.MethodDelete:
			f.delete(w, name)
		case r.Method == http.MethodGet && r.URL.Query().Get("alt") == "media":
			f.media(w, name)
		case r.Method == http.MethodGet:
			f.attrs(w, name)
		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	case r.Method == http.MethodGet && strings.HasPrefix(path, "/"+f.bucket+"/"):
		f.media(w, strings.TrimPrefix(path, "/"+f.bucket+"/"))
	default:
		http.Error(w, "unexpected request "+r.Method+" "+path, http.StatusBadRequest)
	}
}

func (f *fakeGCS) upload(w http.ResponseWriter, r *http.Request) {
	mediaType, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || !strings.HasPrefix(mediaType, "multipart/") {
		http.Error(w, "expected a multipart upload", http.StatusBadRequest)
		return
	}
	mr := multipart.NewReader(r.Body, params["boundary"])
	metaPart, err := mr.NextPart()
	if err != nil {
		http.Error(w, "missing metadata part", http.StatusBadRequest)
		return
	}
	var obj objectResource
	if err := json.NewDecoder(metaPart).Decode(&obj); err != nil {
		http.Error(w, "bad metadata part", http.StatusBadRequest)
		return
	}
	mediaPart, err := mr.NextPart()
	if err != nil {
		http.Error(w, "missing media part", http.StatusBadRequest)
		return
	}
	body, err := io.ReadAll(mediaPart)
	if err != nil {
		http.Error(w, "bad media part", http.StatusBadRequest)
		return
	}
	if obj.Name == "" {
		obj.Name = r.URL.Query().Get("name")
	}

	f.now = f.now.Add(time.Minute)
	f.gen++
	obj.Kind = "storage#object"
	obj.Bucket = f.bucket
	obj.Size = strconv.Itoa(len(body))
	obj.Generation = strconv.FormatInt(f.gen, 10)
	obj.Updated = f.now.Format(time.RFC3339Nano)
	f.objects[obj.Name] = &fakeObject{resource: obj, body: body}
	writeJSON(w, http.StatusOK, obj)
}

func (f *fakeGCS) list(w http.ResponseWriter, r *http.Request) {
	prefix := r.URL.Query().Get("prefix")
	items := []objectResource{}
	for name, o := range f.objects {
		if strings.HasPrefix(name, prefix) {
			items = append(items, o.resource)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Name < items[j].Name })
	writeJSON(w, http.StatusOK, map[string]any{"kind": "storage#objects", "items": items})
}

func (f *fakeGCS) attrs(w http.ResponseWriter, name string) {
	o, ok := f.objects[name]
	if !ok {
		notFound(w)
		return
	}
	writeJSON(w, http.StatusOK, o.resource)
}

func (f *fakeGCS) media(w http.ResponseWriter, name string) {
	o, ok := f.objects[name]
	if !ok {
		notFound(w)
		return
	}
	w.Header().Set("Content-Type", o.resource.ContentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(o.body)))
	w.Header().Set("X-Goog-Generation", o.resource.Generation)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(o.body)
}

func (f *fakeGCS) delete(w http.ResponseWriter, name string) {
	if _, ok := f.objects[name]; !ok {
		notFound(w)
		return
	}
	delete(f.objects, name)
	w.WriteHeader(http.StatusNoContent)
}

// objectNames lists stored object names in order.
func (f *fakeGCS) objectNames() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	names := make([]string, 0, len(f.objects))
	for name := range f.objects {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func notFound(w http.ResponseWriter) {
	writeJSON(w, http.StatusNotFound, map[string]any{
		"error": map[string]any{"code": http.StatusNotFound, "message": "No such object"},
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
