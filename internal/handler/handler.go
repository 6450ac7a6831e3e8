package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/dmorgan81/imagegen/internal/generate"
	"github.com/dmorgan81/imagegen/internal/log"
	"github.com/dmorgan81/imagegen/internal/page"
	"github.com/dmorgan81/imagegen/internal/session"
	"github.com/samber/do"
)

type Status struct {
	Busy  bool   `json:"busy"`
	Image string `json:"image"`
	Error string `json:"error"`
}

type Handler struct {
	logger    *slog.Logger
	session   *session.Session
	templator *page.Templator
}

func NewHandler(i *do.Injector) (*Handler, error) {
	return New(
		log.FromContextOrDiscard(do.MustInvoke[context.Context](i)),
		do.MustInvoke[*session.Session](i),
		do.MustInvoke[*page.Templator](i),
	), nil
}

func New(logger *slog.Logger, session *session.Session, templator *page.Templator) *Handler {
	return &Handler{logger: logger, session: session, templator: templator}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	r = r.WithContext(log.NewContext(r.Context(), h.logger))
	log.FromContextOrDiscard(r.Context()).WithGroup("Handler").Debug("handling request", "method", r.Method, "path", r.URL.Path)

	switch r.URL.Path {
	case "/":
		h.only(http.MethodGet, h.index)(w, r)
	case "/credential":
		h.only(http.MethodPost, h.credential)(w, r)
	case "/generate":
		h.only(http.MethodPost, h.generate)(w, r)
	case "/status":
		h.only(http.MethodGet, h.status)(w, r)
	default:
		http.NotFound(w, r)
	}
}

func (h *Handler) only(method string, fn http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != method {
			w.Header().Set("Allow", method)
			http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
			return
		}
		fn(w, r)
	}
}

func (h *Handler) index(w http.ResponseWriter, r *http.Request) {
	var err error
	if !h.session.Busy() {
		err = h.session.Err()
	}
	h.render(w, r, h.session.Prompt(), err)
}

func (h *Handler) credential(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := h.session.SetCredential(r.Context(), r.PostForm.Get("key")); err != nil {
		h.fail(w, r, err)
		return
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (h *Handler) generate(w http.ResponseWriter, r *http.Request) {
	log := log.FromContextOrDiscard(r.Context()).WithGroup("Handler")
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if _, ok := r.PostForm["key"]; ok {
		if key := r.PostForm.Get("key"); key != h.session.Credential() {
			if err := h.session.SetCredential(r.Context(), key); err != nil {
				h.fail(w, r, err)
				return
			}
		}
	}

	prompt := r.PostForm.Get("prompt")
	// the run outlives the request; the busy page refreshes until it is done
	if err := h.session.Start(context.WithoutCancel(r.Context()), prompt); err != nil {
		log.Info("generation not started", "error", err)
		h.render(w, r, prompt, err)
		return
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (h *Handler) status(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(Status{
		Busy:  h.session.Busy(),
		Image: h.session.Result(),
		Error: generate.Message(h.session.Err()),
	})
}

func (h *Handler) render(w http.ResponseWriter, r *http.Request, prompt string, err error) {
	html, terr := h.templator.Template(r.Context(), page.Params{
		Credential: h.session.Credential(),
		Prompt:     prompt,
		Image:      h.session.Result(),
		Error:      generate.Message(err),
		Busy:       h.session.Busy(),
	})
	if terr != nil {
		h.fail(w, r, terr)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(html)
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	log.FromContextOrDiscard(r.Context()).WithGroup("Handler").Error("request failed", "error", err)
	http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
}
