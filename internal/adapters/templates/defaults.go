package templates

// Built-in template set. Deployments with custom branding register their own
// registry instead.

const genericSubject = `{{if .Subject}}{{.Subject}}{{else}}{{.Title}}{{end}}`

const genericBody = `<!DOCTYPE html>
<html>
<body style="font-family: sans-serif; color: #1f2933;">
  <h2>{{.Title}}</h2>
  <p>{{.Message}}</p>
  {{if .ActionURL}}<p><a href="{{.ActionURL}}">{{if .ActionLabel}}{{.ActionLabel}}{{else}}View details{{end}}</a></p>{{end}}
  {{if .Brand}}<p style="color: #7b8794; font-size: 12px;">Sent by {{.Brand.Name}}</p>{{end}}
</body>
</html>`

// DefaultRegistry returns the registry used when no custom template set is
// configured. The generic kind renders a title, a message, and an optional
// action link.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.MustRegister("notification", genericSubject, genericBody)
	return r
}
