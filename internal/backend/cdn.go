package backend

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/dunamismax/pixelforge/internal/cache"
	"github.com/dunamismax/pixelforge/internal/domain"
	"github.com/dunamismax/pixelforge/internal/geometry"
	"github.com/dunamismax/pixelforge/internal/transform"
)

const defaultPurgeEndpoint = "https://api.imgix.com/api/v1/purge"

type CDNConfig struct {
	Handle        string
	Domain        string
	SignKey       string
	Insecure      bool
	PurgeKey      string
	PurgeEndpoint string
	ResponseTTL   time.Duration
}

// CDN delegates rendering to an imgix-style service. Transform only builds
// URLs; pixels never pass through this process.
type CDN struct {
	cfg       CDNConfig
	client    *http.Client
	responses cache.ResponseCache
}

func NewCDN(cfg CDNConfig, client *http.Client, responses cache.ResponseCache) (*CDN, error) {
	cfg.Domain = strings.Trim(strings.TrimSpace(cfg.Domain), "/")
	if cfg.Domain == "" {
		return nil, fmt.Errorf("cdn backend requires a domain")
	}
	if cfg.Handle == "" {
		cfg.Handle = "imgix"
	}
	if cfg.PurgeEndpoint == "" {
		cfg.PurgeEndpoint = defaultPurgeEndpoint
	}
	if cfg.ResponseTTL <= 0 {
		cfg.ResponseTTL = 24 * time.Hour
	}
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &CDN{cfg: cfg, client: client, responses: responses}, nil
}

func (c *CDN) Handle() string {
	return c.cfg.Handle
}

func (c *CDN) Revision() string {
	return "cdn/" + c.cfg.Domain
}

func (c *CDN) Delegated() bool {
	return true
}

var cdnFits = map[transform.FitMode]string{
	transform.FitCrop:      "crop",
	transform.FitFit:       "clip",
	transform.FitLetterbox: "fill",
	transform.FitCropOnly:  "crop",
	transform.FitClamp:     "clamp",
	transform.FitClip:      "clip",
	transform.FitFill:      "fill",
	transform.FitFillMax:   "fillmax",
	transform.FitMin:       "min",
	transform.FitMax:       "max",
	transform.FitScale:     "scale",
	transform.FitStretch:   "scale",
}

func (c *CDN) Transform(_ context.Context, req Request) (Result, error) {
	params, err := c.Params(req.Descriptor)
	if err != nil {
		return Result{}, err
	}

	w, h := geometry.Resolve(req.Descriptor, req.Source.Width(), req.Source.Height())
	format := req.Format
	if req.Descriptor.Format == transform.FormatAuto {
		format = transform.FormatAuto
	}

	return Result{
		URL:      c.buildURL(domain.RemotePathOf(req.Source), params),
		Width:    w,
		Height:   h,
		Format:   format,
		MimeType: format.MimeType(),
		Params:   params,
		Origin:   c.cfg.Domain,
	}, nil
}

// Params translates a descriptor into the service's query vocabulary.
func (c *CDN) Params(d transform.Descriptor) (map[string]string, error) {
	params := map[string]string{}
	if d.Width > 0 {
		params["w"] = strconv.Itoa(d.Width)
	}
	if d.Height > 0 {
		params["h"] = strconv.Itoa(d.Height)
	}

	if d.HasSize() {
		fit, ok := cdnFits[d.Fit]
		if !ok {
			return nil, domain.Errorf(domain.KindTransform, "cdn", "fit mode %q has no cdn equivalent", d.Fit)
		}
		params["fit"] = fit
		if fit == "crop" && d.Position != transform.Center {
			params["crop"] = "focalpoint"
			params["fp-x"] = strconv.FormatFloat(d.Position.X, 'f', -1, 64)
			params["fp-y"] = strconv.FormatFloat(d.Position.Y, 'f', -1, 64)
		}
	}

	switch d.Format {
	case transform.FormatSource:
	case transform.FormatAuto:
		params["auto"] = "format"
	case transform.FormatJPG:
		if d.Interlace {
			params["fm"] = "pjpg"
		} else {
			params["fm"] = "jpg"
		}
	default:
		params["fm"] = string(d.Format)
	}

	if d.Quality > 0 {
		params["q"] = strconv.Itoa(d.Quality)
	}
	if d.Background != "" {
		params["bg"] = strings.TrimPrefix(d.Background, "#")
	}

	for _, fx := range d.Effects {
		if err := translateEffect(params, fx); err != nil {
			return nil, err
		}
	}

	for k, v := range d.Extra {
		params[k] = v
	}
	return params, nil
}

func translateEffect(params map[string]string, fx transform.EffectSpec) error {
	value := func(def string) string {
		for _, k := range []string{"value", "amount", "sigma", "percentage"} {
			if v := strings.TrimSpace(fx.Params[k]); v != "" && v != "true" {
				return v
			}
		}
		return def
	}

	switch fx.Name {
	case "grayscale":
		params["sat"] = "-100"
	case "negative":
		params["invert"] = "true"
	case "blur":
		params["blur"] = value("20")
	case "sharpen":
		params["sharp"] = value("20")
	case "sepia":
		params["sepia"] = value("80")
	case "contrast":
		params["con"] = value("10")
	case "brightness":
		params["bri"] = value("10")
	case "saturation":
		params["sat"] = value("20")
	case "gamma":
		params["gam"] = value("0")
	case "pixelate":
		params["px"] = value("8")
	case "watermark":
		text := strings.TrimSpace(fx.Params["text"])
		if text == "" {
			text = value("")
		}
		if text == "" {
			return domain.Errorf(domain.KindEffect, "cdn", "watermark requires text")
		}
		params["txt"] = text
		if g := strings.TrimSpace(fx.Params["gravity"]); g != "" {
			params["txt-align"] = textAlign(g)
		}
	default:
		return domain.Errorf(domain.KindEffect, "cdn", "effect %q is not supported by the cdn backend", fx.Name)
	}
	return nil
}

var textAligns = map[string]string{
	"northwest": "top,left",
	"north":     "top,center",
	"northeast": "top,right",
	"west":      "middle,left",
	"center":    "middle,center",
	"east":      "middle,right",
	"southwest": "bottom,left",
	"south":     "bottom,center",
}

func textAlign(gravity string) string {
	if a, ok := textAligns[strings.ToLower(gravity)]; ok {
		return a
	}
	return "bottom,right"
}

func (c *CDN) buildURL(path string, params map[string]string) string {
	segments := strings.Split(strings.TrimPrefix(path, "/"), "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	escaped := "/" + strings.Join(segments, "/")

	query := encodeSorted(params)
	if c.cfg.SignKey != "" {
		payload := c.cfg.SignKey + escaped
		if query != "" {
			payload += "?" + query
		}
		sum := md5.Sum([]byte(payload))
		sig := "s=" + hex.EncodeToString(sum[:])
		if query == "" {
			query = sig
		} else {
			query += "&" + sig
		}
	}

	scheme := "https"
	if c.cfg.Insecure {
		scheme = "http"
	}
	out := scheme + "://" + c.cfg.Domain + escaped
	if query != "" {
		out += "?" + query
	}
	return out
}

func encodeSorted(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, url.QueryEscape(k)+"="+url.QueryEscape(params[k]))
	}
	return strings.Join(parts, "&")
}

// Palette fetches the color palette of an already transformed image.
func (c *CDN) Palette(ctx context.Context, img domain.TransformedImage, opts PaletteOptions) ([]byte, error) {
	if opts.Format == "" {
		opts.Format = "json"
	}
	if opts.Colors <= 0 {
		opts.Colors = 6
	}
	extra := map[string]string{"palette": opts.Format, "colors": strconv.Itoa(opts.Colors)}
	if opts.Prefix != "" {
		extra["prefix"] = opts.Prefix
	}
	return c.derivative(ctx, "palette", img, extra)
}

func (c *CDN) Blurhash(ctx context.Context, img domain.TransformedImage) (string, error) {
	data, err := c.derivative(ctx, "blurhash", img, map[string]string{"fm": "blurhash"})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

func (c *CDN) derivative(ctx context.Context, kind string, img domain.TransformedImage, extra map[string]string) ([]byte, error) {
	if img.Origin != c.cfg.Domain || img.URL == "" {
		return nil, domain.Errorf(domain.KindTransform, kind, "image was not produced by %s", c.cfg.Handle)
	}

	params := make(map[string]string, len(img.Params)+len(extra))
	for k, v := range img.Params {
		params[k] = v
	}
	for k, v := range extra {
		params[k] = v
	}
	delete(params, "auto")

	u, err := url.Parse(img.URL)
	if err != nil {
		return nil, domain.Wrap(domain.KindTransform, kind, fmt.Errorf("parse image url: %w", err))
	}
	target := c.buildURL(u.Path, params)

	cacheKey := "imgix:" + kind + ":" + base64.StdEncoding.EncodeToString([]byte(target))
	if c.responses != nil {
		if data, ok, err := c.responses.Get(ctx, cacheKey); err == nil && ok {
			return data, nil
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, domain.Wrap(domain.KindTransform, kind, fmt.Errorf("build request: %w", err))
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, domain.Wrap(domain.KindTransform, kind, fmt.Errorf("fetch %s: %w", kind, err))
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, domain.Wrap(domain.KindTransform, kind, fmt.Errorf("read %s: %w", kind, err))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, domain.Errorf(domain.KindTransform, kind, "%s request returned status %d", kind, resp.StatusCode)
	}

	if c.responses != nil {
		_ = c.responses.Set(ctx, cacheKey, data, c.cfg.ResponseTTL)
	}
	return data, nil
}

type purgeRequest struct {
	Data purgeData `json:"data"`
}

type purgeData struct {
	Type       string          `json:"type"`
	Attributes purgeAttributes `json:"attributes"`
}

type purgeAttributes struct {
	URL string `json:"url"`
}

// Purge asks the service to drop every rendition of src.
func (c *CDN) Purge(ctx context.Context, src domain.Source) error {
	if c.cfg.PurgeKey == "" {
		return nil
	}

	body, err := json.Marshal(purgeRequest{Data: purgeData{
		Type:       "purges",
		Attributes: purgeAttributes{URL: c.buildURL(domain.RemotePathOf(src), nil)},
	}})
	if err != nil {
		return fmt.Errorf("marshal purge request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.PurgeEndpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build purge request: %w", err)
	}
	req.Header.Set("Content-Type", "application/vnd.api+json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.PurgeKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("send purge request: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("purge request returned status %d", resp.StatusCode)
	}
	return nil
}
