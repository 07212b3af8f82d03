package offline

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"net/http"
	"text/template"
)

//go:embed sw.js.tmpl
var workerTemplateText string

var workerTemplate = template.Must(template.New("sw.js").Parse(workerTemplateText))

// OfflineHTML is served for navigations when neither network nor cache can answer
const OfflineHTML = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="UTF-8">
<meta name="viewport" content="width=device-width, initial-scale=1.0">
<title>Mission Control - Offline</title>
<style>
body{font-family:'Inter',sans-serif;background:#050508;color:#fff;display:flex;align-items:center;justify-content:center;min-height:100vh;margin:0}
.box{text-align:center;max-width:400px;padding:2rem}
h1{font-size:1.5rem;color:#6C63FF}
p{color:#ccc;line-height:1.6}
button{background:#6C63FF;color:#fff;border:none;padding:.75rem 1.5rem;border-radius:8px;font-size:1rem;cursor:pointer}
</style>
</head>
<body>
<div class="box">
<h1>You're Offline</h1>
<p>Mission Control is temporarily unavailable. Some features may still work with cached data.</p>
<button onclick="window.location.reload()">Retry Connection</button>
</div>
</body>
</html>`

// RenderWorker renders the browser worker script for policy. Every value is
// embedded as a JSON literal.
func RenderWorker(policy Policy) ([]byte, error) {
	policy = policy.withDefaults()

	values := map[string]any{
		"Version":           policy.Version,
		"StaticResources":   policy.StaticResources,
		"APIPrefix":         policy.APIPrefix,
		"FontHosts":         policy.FontHosts,
		"SyncTag":           SyncTag,
		"OfflineHTML":       OfflineHTML,
		"NotificationTitle": DefaultNotificationTitle,
		"NotificationBody":  DefaultNotificationBody,
	}
	data := make(map[string]string, len(values))
	for k, v := range values {
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("failed to encode %s: %w", k, err)
		}
		data[k] = string(b)
	}

	var buf bytes.Buffer
	if err := workerTemplate.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("failed to render worker: %w", err)
	}
	return buf.Bytes(), nil
}

// Manifest is the web app manifest
type Manifest struct {
	Name            string         `json:"name"`
	ShortName       string         `json:"short_name"`
	Description     string         `json:"description"`
	StartURL        string         `json:"start_url"`
	Scope           string         `json:"scope"`
	Display         string         `json:"display"`
	BackgroundColor string         `json:"background_color"`
	ThemeColor      string         `json:"theme_color"`
	Icons           []ManifestIcon `json:"icons"`
}

// ManifestIcon is one manifest icon
type ManifestIcon struct {
	Src     string `json:"src"`
	Sizes   string `json:"sizes"`
	Type    string `json:"type"`
	Purpose string `json:"purpose,omitempty"`
}

// DefaultManifest returns the dashboard's manifest
func DefaultManifest() Manifest {
	return Manifest{
		Name:            "Mission Control",
		ShortName:       "Mission Control",
		Description:     "Personal operations dashboard",
		StartURL:        "/",
		Scope:           "/",
		Display:         "standalone",
		BackgroundColor: "#050508",
		ThemeColor:      "#6C63FF",
		Icons: []ManifestIcon{
			{Src: "/favicon.png", Sizes: "512x512", Type: "image/png", Purpose: "any maskable"},
		},
	}
}

// WorkerHandler serves the rendered worker script
func WorkerHandler(policy Policy) (http.Handler, error) {
	script, err := RenderWorker(policy)
	if err != nil {
		return nil, err
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/javascript")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Service-Worker-Allowed", "/")
		_, _ = w.Write(script)
	}), nil
}

// ManifestHandler serves the manifest
func ManifestHandler(m Manifest) (http.Handler, error) {
	body, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, err
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/manifest+json")
		w.Header().Set("Cache-Control", "public, max-age=86400")
		_, _ = w.Write(body)
	}), nil
}
