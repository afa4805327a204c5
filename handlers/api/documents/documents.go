package documents

import (
	"design-editor/core"
	"design-editor/manager"
	"design-editor/patch"
	"design-editor/stores"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/sirupsen/logrus"
)

type (
	DocumentCreateRequest struct {
		Name   string  `json:"name"`
		Width  float64 `json:"width"`
		Height float64 `json:"height"`
	}

	DocumentSummary struct {
		ID        string    `json:"id"`
		Name      string    `json:"name"`
		Version   int       `json:"version"`
		UpdatedAt time.Time `json:"updatedAt"`
	}

	ApplyPatchesRequest struct {
		// BaseVersion, when set, must equal the stored version.
		BaseVersion *int          `json:"baseVersion,omitempty"`
		Patches     []patch.Patch `json:"patches"`
	}

	ApplyPatchesResponse struct {
		Document  *core.Document  `json:"document"`
		JSONPatch json.RawMessage `json:"jsonPatch"`
	}
)

func renderError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	render.Status(r, status)
	render.JSON(w, r, map[string]string{"error": msg})
}

// lookupError answers with 404 for a missing document and 500 otherwise.
func lookupError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, core.ErrNotFound) {
		renderError(w, r, http.StatusNotFound, "Document not found")
		return
	}
	renderError(w, r, http.StatusInternalServerError, "Failed to load document")
}

func HandleCreate(store stores.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req DocumentCreateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			renderError(w, r, http.StatusBadRequest, "Invalid request body")
			return
		}
		if req.Name == "" {
			req.Name = "Untitled"
		}

		doc, err := store.Create(r.Context(), req.Name, req.Width, req.Height)
		if err != nil {
			logrus.WithError(err).Error("Failed to create document")
			renderError(w, r, http.StatusInternalServerError, "Failed to create document")
			return
		}
		render.Status(r, http.StatusCreated)
		render.JSON(w, r, doc)
	}
}

func HandleList(store stores.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		docs, err := store.List(r.Context())
		if err != nil {
			logrus.WithError(err).Error("Failed to list documents")
			renderError(w, r, http.StatusInternalServerError, "Failed to list documents")
			return
		}

		summaries := make([]DocumentSummary, 0, len(docs))
		for _, doc := range docs {
			summaries = append(summaries, DocumentSummary{
				ID:        doc.ID,
				Name:      doc.Name,
				Version:   doc.Version,
				UpdatedAt: doc.UpdatedAt,
			})
		}
		render.JSON(w, r, summaries)
	}
}

func HandleGet(store stores.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doc, err := store.Get(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			lookupError(w, r, err)
			return
		}
		render.JSON(w, r, doc)
	}
}

// HandlePut replaces a document wholesale. The stored version is bumped
// and announced; the version in the body is ignored.
func HandlePut(store stores.Store, notifier core.Notifier, locks *DocumentLocks) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		log := logrus.WithField("document_id", id)

		var doc core.Document
		if err := json.NewDecoder(r.Body).Decode(&doc); err != nil {
			log.WithError(err).Warn("Invalid document body")
			renderError(w, r, http.StatusBadRequest, "Invalid document: "+err.Error())
			return
		}
		if doc.ID != id {
			renderError(w, r, http.StatusBadRequest, "Document id does not match the URL")
			return
		}
		if err := doc.CheckIntegrity(); err != nil {
			renderError(w, r, http.StatusUnprocessableEntity, err.Error())
			return
		}

		unlock := locks.Lock(id)
		defer unlock()

		current, err := store.Get(r.Context(), id)
		if err != nil {
			lookupError(w, r, err)
			return
		}
		doc.Version = current.Version + 1
		doc.CreatedAt = current.CreatedAt
		doc.UpdatedAt = time.Now()
		if err := store.Put(r.Context(), &doc); err != nil {
			log.WithError(err).Error("Failed to save document")
			renderError(w, r, http.StatusInternalServerError, "Failed to save document")
			return
		}
		if notifier != nil {
			update := core.DocumentUpdate{DocumentID: id, Version: doc.Version}
			if err := notifier.Publish(r.Context(), update); err != nil {
				log.WithError(err).Warn("Failed to publish document update")
			}
		}
		render.JSON(w, r, &doc)
	}
}

func HandleDelete(store stores.Store, locks *DocumentLocks) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		unlock := locks.Lock(id)
		defer unlock()

		if err := store.Delete(r.Context(), id); err != nil {
			lookupError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func HandleHistory(store stores.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if _, err := store.Get(r.Context(), id); err != nil {
			lookupError(w, r, err)
			return
		}
		entries, err := store.ListHistory(r.Context(), id)
		if err != nil {
			logrus.WithField("document_id", id).WithError(err).Error("Failed to list history")
			renderError(w, r, http.StatusInternalServerError, "Failed to list history")
			return
		}
		if entries == nil {
			entries = []core.HistoryEntry{}
		}
		render.JSON(w, r, entries)
	}
}

// JSONPatchMediaType selects an RFC 6902 request body on the patches
// endpoint; the base version then comes from the baseVersion query parameter.
const JSONPatchMediaType = "application/json-patch+json"

func isJSONPatch(r *http.Request) bool {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && mediaType == JSONPatchMediaType
}

// decodeApplyPatches reads the request body. An RFC 6902 body is returned
// raw in ops, to be converted once the stored document is known.
func decodeApplyPatches(r *http.Request) (req ApplyPatchesRequest, ops []byte, err error) {
	if !isJSONPatch(r) {
		err = json.NewDecoder(r.Body).Decode(&req)
		return req, nil, err
	}
	if v := r.URL.Query().Get("baseVersion"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return req, nil, fmt.Errorf("baseVersion: %w", err)
		}
		req.BaseVersion = &n
	}
	ops, err = io.ReadAll(r.Body)
	return req, ops, err
}

// HandleApplyPatches commits a patch batch to a stored document through a
// manager session: the batch is applied atomically, saved, recorded in
// history and announced. The batch is either the engine's own encoding or
// an RFC 6902 document. The response carries the batch rewritten as an
// RFC 6902 JSON Patch against the previous version.
func HandleApplyPatches(store stores.Store, notifier core.Notifier, locks *DocumentLocks) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		log := logrus.WithField("document_id", id)

		req, rawOps, err := decodeApplyPatches(r)
		if err != nil {
			renderError(w, r, http.StatusBadRequest, "Invalid patch batch: "+err.Error())
			return
		}

		unlock := locks.Lock(id)
		defer unlock()

		doc, err := store.Get(r.Context(), id)
		if err != nil {
			lookupError(w, r, err)
			return
		}
		if req.BaseVersion != nil && *req.BaseVersion != doc.Version {
			renderError(w, r, http.StatusConflict, "Document has changed since the base version")
			return
		}
		if rawOps != nil {
			req.Patches, err = patch.FromJSONPatch(doc, rawOps)
			if err != nil {
				log.WithError(err).Warn("Rejected JSON patch")
				renderError(w, r, http.StatusUnprocessableEntity, err.Error())
				return
			}
		}
		ops, err := patch.ToJSONPatch(doc, req.Patches)
		if err != nil {
			renderError(w, r, http.StatusUnprocessableEntity, err.Error())
			return
		}

		session := manager.New(
			manager.WithStore(store),
			manager.WithHistory(store),
			manager.WithNotifier(notifier),
			manager.WithSaveDebounce(time.Hour),
			manager.WithLogger(log),
		)
		defer session.Dispose()
		session.LoadDocument(doc)

		next, err := session.ApplyPatches(req.Patches)
		if err != nil {
			log.WithError(err).Warn("Rejected patch batch")
			renderError(w, r, http.StatusUnprocessableEntity, err.Error())
			return
		}
		if err := session.Flush(r.Context()); err != nil {
			renderError(w, r, http.StatusInternalServerError, "Failed to save document")
			return
		}
		render.JSON(w, r, ApplyPatchesResponse{Document: next, JSONPatch: ops})
	}
}

// Routes mounts the document API.
func Routes(store stores.Store, notifier core.Notifier) chi.Router {
	locks := NewDocumentLocks()
	r := chi.NewRouter()
	r.Post("/", HandleCreate(store))
	r.Get("/", HandleList(store))
	r.Route("/{id}", func(r chi.Router) {
		r.Get("/", HandleGet(store))
		r.Put("/", HandlePut(store, notifier, locks))
		r.Delete("/", HandleDelete(store, locks))
		r.Get("/history", HandleHistory(store))
		r.Post("/patches", HandleApplyPatches(store, notifier, locks))
	})
	return r
}
