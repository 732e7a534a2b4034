package catalog_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"MiniShop/internal/catalog"
	"MiniShop/internal/imagestore"
	"MiniShop/pkg/kit"
)

type shopOptions struct {
	admin        *kit.BasicAuth
	limiter      *kit.IPRateLimiter
	maxUpload    int64
	metricsToken string
	trustProxy   bool
}

func newShopTS(t *testing.T, opts shopOptions) *httptest.Server {
	t.Helper()

	images, err := imagestore.NewLocal(t.TempDir(), imagestore.DefaultURLPrefix)
	if err != nil {
		t.Fatalf("imagestore.NewLocal: %v", err)
	}

	reg := prometheus.NewRegistry()
	svc := catalog.NewService(catalog.NewMemStore(), images,
		catalog.WithLogger(zap.NewNop()),
		catalog.WithMetrics(catalog.NewMetrics(reg)),
	)

	s := &catalog.Server{Service: svc, Log: zap.NewNop(), MaxUploadBytes: opts.maxUpload}

	h := catalog.NewHandler(s, catalog.HTTPDeps{
		Log:            zap.NewNop(),
		Service:        "shop",
		Registry:       reg,
		MetricsEnabled: true,
		MetricsToken:   opts.metricsToken,
		Admin:          opts.admin,
		TrustProxy:     opts.trustProxy,
		Limiter:        opts.limiter,
		Uploads:        images.Handler(),
	})

	ts := httptest.NewServer(h)
	t.Cleanup(ts.Close)
	return ts
}

func fakePNG(size int) []byte {
	b := make([]byte, size)
	copy(b, "\x89PNG\r\n\x1a\n")
	return b
}

type productForm struct {
	name, description, price, category string
	filename                           string
	image                              []byte
}

func widgetForm() productForm {
	return productForm{
		name:        "Widget",
		description: "A fine widget",
		price:       "9.99",
		filename:    "widget.png",
		image:       fakePNG(10 << 10),
	}
}

func doRequest(t *testing.T, req *http.Request, auth []string) (*http.Response, []byte) {
	t.Helper()

	if len(auth) == 2 {
		req.SetBasicAuth(auth[0], auth[1])
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp, raw
}

func postProduct(t *testing.T, baseURL string, f productForm, auth ...string) (*http.Response, []byte) {
	t.Helper()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range map[string]string{
		"name":        f.name,
		"description": f.description,
		"price":       f.price,
		"category":    f.category,
	} {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatalf("write field: %v", err)
		}
	}
	if f.image != nil {
		part, err := mw.CreateFormFile("image", f.filename)
		if err != nil {
			t.Fatalf("create form file: %v", err)
		}
		if _, err := part.Write(f.image); err != nil {
			t.Fatalf("write image: %v", err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}

	req, err := http.NewRequest(http.MethodPost, baseURL+"/api/products", &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return doRequest(t, req, auth)
}

func deleteProduct(t *testing.T, baseURL, id string, auth ...string) (*http.Response, []byte) {
	t.Helper()

	req, err := http.NewRequest(http.MethodDelete, baseURL+"/api/products/"+id, nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	return doRequest(t, req, auth)
}

type productJSON struct {
	ID          int64       `json:"id"`
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Price       json.Number `json:"price"`
	ImageURL    string      `json:"image_url"`
	Category    string      `json:"category"`
}

func listProducts(t *testing.T, baseURL string) []productJSON {
	t.Helper()

	req, err := http.NewRequest(http.MethodGet, baseURL+"/api/products", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, raw := doRequest(t, req, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list status=%d body=%s", resp.StatusCode, string(raw))
	}

	var out []productJSON
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("decode list: %v body=%s", err, string(raw))
	}
	return out
}

func TestShop_AddListServeDelete(t *testing.T) {
	ts := newShopTS(t, shopOptions{})

	var created productJSON
	{
		resp, raw := postProduct(t, ts.URL, widgetForm())
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("create status=%d body=%s", resp.StatusCode, string(raw))
		}

		var ar struct {
			Message string      `json:"message"`
			Product productJSON `json:"product"`
		}
		if err := json.Unmarshal(raw, &ar); err != nil {
			t.Fatalf("decode create: %v body=%s", err, string(raw))
		}
		if ar.Message != "Product added successfully!" {
			t.Fatalf("message=%q", ar.Message)
		}
		created = ar.Product
	}

	list := listProducts(t, ts.URL)
	if len(list) != 1 {
		t.Fatalf("expected 1 product, got %d", len(list))
	}
	if list[0].Name != "Widget" || list[0].Price.String() != "9.99" {
		t.Fatalf("unexpected product: %+v", list[0])
	}
	if list[0].ID != created.ID {
		t.Fatalf("id=%d want=%d", list[0].ID, created.ID)
	}
	if !strings.HasPrefix(list[0].ImageURL, "/uploads/") {
		t.Fatalf("image_url=%q", list[0].ImageURL)
	}

	{
		req, _ := http.NewRequest(http.MethodGet, ts.URL+list[0].ImageURL, nil)
		resp, raw := doRequest(t, req, nil)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("image status=%d", resp.StatusCode)
		}
		if len(raw) != 10<<10 {
			t.Fatalf("image size=%d", len(raw))
		}
	}

	{
		resp, raw := deleteProduct(t, ts.URL, fmt.Sprint(created.ID))
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("delete status=%d body=%s", resp.StatusCode, string(raw))
		}
	}

	if got := listProducts(t, ts.URL); len(got) != 0 {
		t.Fatalf("expected empty list after delete, got %d", len(got))
	}

	{
		req, _ := http.NewRequest(http.MethodGet, ts.URL+created.ImageURL, nil)
		resp, _ := doRequest(t, req, nil)
		if resp.StatusCode != http.StatusNotFound {
			t.Fatalf("expected image gone, status=%d", resp.StatusCode)
		}
	}

	{
		resp, _ := deleteProduct(t, ts.URL, fmt.Sprint(created.ID))
		if resp.StatusCode != http.StatusNotFound {
			t.Fatalf("second delete status=%d", resp.StatusCode)
		}
	}
}

func TestShop_InvalidInputRejected(t *testing.T) {
	ts := newShopTS(t, shopOptions{})

	cases := map[string]func(*productForm){
		"non numeric price": func(f *productForm) { f.price = "abc" },
		"missing name":      func(f *productForm) { f.name = "" },
		"missing image":     func(f *productForm) { f.image = nil },
		"text as image":     func(f *productForm) { f.image = []byte("hello, world") },
	}

	for name, edit := range cases {
		t.Run(name, func(t *testing.T) {
			f := widgetForm()
			edit(&f)

			resp, raw := postProduct(t, ts.URL, f)
			if resp.StatusCode != http.StatusBadRequest {
				t.Fatalf("status=%d body=%s", resp.StatusCode, string(raw))
			}

			var mr kit.MessageResponse
			if err := json.Unmarshal(raw, &mr); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if mr.Message == "" {
				t.Fatalf("empty error message")
			}
		})
	}

	if got := listProducts(t, ts.URL); len(got) != 0 {
		t.Fatalf("expected no products, got %d", len(got))
	}
}

func TestShop_NotMultipart(t *testing.T) {
	ts := newShopTS(t, shopOptions{})

	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/api/products", strings.NewReader(`{"name":"x"}`))
	req.Header.Set("Content-Type", "application/json")

	resp, raw := doRequest(t, req, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status=%d body=%s", resp.StatusCode, string(raw))
	}
}

func TestShop_UploadTooLarge(t *testing.T) {
	ts := newShopTS(t, shopOptions{maxUpload: 4 << 10})

	resp, raw := postProduct(t, ts.URL, widgetForm())
	if resp.StatusCode != http.StatusRequestEntityTooLarge {
		t.Fatalf("status=%d body=%s", resp.StatusCode, string(raw))
	}
}

func TestShop_DeleteUnknownOrMalformed(t *testing.T) {
	ts := newShopTS(t, shopOptions{})

	for _, id := range []string{"9999", "abc", "0", "-1"} {
		resp, raw := deleteProduct(t, ts.URL, id)
		if resp.StatusCode != http.StatusNotFound {
			t.Fatalf("id=%s status=%d body=%s", id, resp.StatusCode, string(raw))
		}
	}
}

func TestShop_AdminRequiresBasicAuth(t *testing.T) {
	admin, err := kit.NewBasicAuth("shop admin", "admin", "s3cret", "")
	if err != nil {
		t.Fatalf("NewBasicAuth: %v", err)
	}
	ts := newShopTS(t, shopOptions{admin: admin})

	{
		req, _ := http.NewRequest(http.MethodGet, ts.URL+"/admin", nil)
		resp, _ := doRequest(t, req, nil)
		if resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("admin page status=%d", resp.StatusCode)
		}
		if !strings.HasPrefix(resp.Header.Get("WWW-Authenticate"), "Basic ") {
			t.Fatalf("WWW-Authenticate=%q", resp.Header.Get("WWW-Authenticate"))
		}
	}

	{
		resp, _ := postProduct(t, ts.URL, widgetForm(), "admin", "wrong")
		if resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("create with bad password status=%d", resp.StatusCode)
		}
	}

	{
		resp, raw := postProduct(t, ts.URL, widgetForm(), "admin", "s3cret")
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("create status=%d body=%s", resp.StatusCode, string(raw))
		}
	}

	{
		req, _ := http.NewRequest(http.MethodGet, ts.URL+"/admin", nil)
		resp, raw := doRequest(t, req, []string{"admin", "s3cret"})
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("admin page status=%d", resp.StatusCode)
		}
		if !strings.Contains(string(raw), "Widget") {
			t.Fatalf("admin page does not list the product")
		}
	}

	// public reads stay open
	if got := listProducts(t, ts.URL); len(got) != 1 {
		t.Fatalf("expected 1 product, got %d", len(got))
	}
}

func TestShop_StorefrontRendersProducts(t *testing.T) {
	ts := newShopTS(t, shopOptions{})

	f := widgetForm()
	f.name = "Blue <Widget>"
	if resp, raw := postProduct(t, ts.URL, f); resp.StatusCode != http.StatusOK {
		t.Fatalf("create status=%d body=%s", resp.StatusCode, string(raw))
	}

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/", nil)
	resp, raw := doRequest(t, req, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("storefront status=%d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Fatalf("content-type=%q", ct)
	}

	page := string(raw)
	if !strings.Contains(page, "Blue &lt;Widget&gt;") {
		t.Fatalf("expected escaped product name in page")
	}
	if !strings.Contains(page, "9.99") {
		t.Fatalf("expected price in page")
	}
}

func TestShop_RateLimitedMutations(t *testing.T) {
	ts := newShopTS(t, shopOptions{limiter: kit.NewIPRateLimiter(1, time.Minute)})

	if resp, raw := postProduct(t, ts.URL, widgetForm()); resp.StatusCode != http.StatusOK {
		t.Fatalf("first create status=%d body=%s", resp.StatusCode, string(raw))
	}

	resp, _ := postProduct(t, ts.URL, widgetForm())
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("second create status=%d", resp.StatusCode)
	}
	if resp.Header.Get("Retry-After") == "" {
		t.Fatalf("missing Retry-After")
	}

	// reads are not limited
	if got := listProducts(t, ts.URL); len(got) != 1 {
		t.Fatalf("expected 1 product, got %d", len(got))
	}
}

func TestShop_RateLimitKeysOnProxyHeaderOnlyWhenTrusted(t *testing.T) {
	post := func(baseURL, forwardedFor string) int {
		f := widgetForm()
		f.price = "abc" // rejected after the limiter, keeps the catalog empty

		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		_ = mw.WriteField("name", f.name)
		_ = mw.WriteField("price", f.price)
		_ = mw.Close()

		req, _ := http.NewRequest(http.MethodPost, baseURL+"/api/products", &buf)
		req.Header.Set("Content-Type", mw.FormDataContentType())
		req.Header.Set("X-Forwarded-For", forwardedFor)
		resp, _ := doRequest(t, req, nil)
		return resp.StatusCode
	}

	direct := newShopTS(t, shopOptions{limiter: kit.NewIPRateLimiter(1, time.Minute)})
	if got := post(direct.URL, "203.0.113.1"); got != http.StatusBadRequest {
		t.Fatalf("first status=%d", got)
	}
	if got := post(direct.URL, "203.0.113.2"); got != http.StatusTooManyRequests {
		t.Fatalf("spoofed header bypassed the limiter, status=%d", got)
	}

	proxied := newShopTS(t, shopOptions{limiter: kit.NewIPRateLimiter(1, time.Minute), trustProxy: true})
	if got := post(proxied.URL, "203.0.113.1"); got != http.StatusBadRequest {
		t.Fatalf("first status=%d", got)
	}
	if got := post(proxied.URL, "203.0.113.2"); got != http.StatusBadRequest {
		t.Fatalf("distinct client behind proxy status=%d", got)
	}
}

func TestShop_HealthAndMetrics(t *testing.T) {
	ts := newShopTS(t, shopOptions{metricsToken: "m-token"})

	for _, p := range []string{"/healthz", "/readyz"} {
		req, _ := http.NewRequest(http.MethodGet, ts.URL+p, nil)
		resp, _ := doRequest(t, req, nil)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("%s status=%d", p, resp.StatusCode)
		}
	}

	{
		req, _ := http.NewRequest(http.MethodGet, ts.URL+"/metrics", nil)
		resp, _ := doRequest(t, req, nil)
		if resp.StatusCode == http.StatusOK {
			t.Fatalf("metrics served without token")
		}
	}

	{
		req, _ := http.NewRequest(http.MethodGet, ts.URL+"/metrics", nil)
		req.Header.Set("Authorization", "Bearer m-token")
		resp, raw := doRequest(t, req, nil)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("metrics status=%d", resp.StatusCode)
		}
		if !strings.Contains(string(raw), "shop_products_created_total") {
			t.Fatalf("catalog metrics not exported")
		}
	}
}
