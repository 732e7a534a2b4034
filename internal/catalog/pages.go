package catalog

import (
	"bytes"
	"embed"
	"html/template"
	"net/http"

	"go.uber.org/zap"

	"MiniShop/pkg/kit"
)

//go:embed templates/*.html
var templateFS embed.FS

var pages = template.Must(template.New("").Funcs(template.FuncMap{
	"price": func(p Product) string { return p.Price.StringFixed(2) },
}).ParseFS(templateFS, "templates/*.html"))

type pageData struct {
	Title    string
	Products []Product
}

func (s *Server) storefront(w http.ResponseWriter, r *http.Request) {
	s.render(w, r, "storefront.html", "Shop")
}

func (s *Server) adminPage(w http.ResponseWriter, r *http.Request) {
	s.render(w, r, "admin.html", "Shop admin")
}

func (s *Server) render(w http.ResponseWriter, r *http.Request, name, title string) {
	products, err := s.Service.List(r.Context())
	if err != nil {
		s.logger().Error("render page failed", zap.Error(err), zap.String("page", name))
		kit.WriteError(w, r, http.StatusInternalServerError, "server error", nil)
		return
	}

	var buf bytes.Buffer
	if err := pages.ExecuteTemplate(&buf, name, pageData{Title: title, Products: products}); err != nil {
		s.logger().Error("execute template failed", zap.Error(err), zap.String("page", name))
		kit.WriteError(w, r, http.StatusInternalServerError, "server error", nil)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}
