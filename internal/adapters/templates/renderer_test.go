package templates

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/craftfolio/mailroom/internal/core"
	"github.com/craftfolio/mailroom/internal/domain/model"
)

func testBrand() *model.Brand {
	return &model.Brand{
		ID:          "brand-1",
		Name:        "Craftfolio",
		SenderName:  "Craftfolio",
		SenderEmail: "hello@craftfolio.dev",
	}
}

func TestRegistryRenderUnknownKind(t *testing.T) {
	r := NewRegistry()

	_, err := r.Render("missing", testBrand(), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrTemplateNotRegistered)
	assert.Contains(t, err.Error(), "missing")
}

func TestRegistryRegisterAndRender(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("invite",
		"You are invited, {{.Name}}",
		"<p>Hello {{.Name}}, welcome to {{.Brand.Name}}</p>"))

	email, err := r.Render("invite", testBrand(), map[string]any{"Name": "Ada"})
	require.NoError(t, err)
	assert.Equal(t, "You are invited, Ada", email.Subject)
	assert.Equal(t, "<p>Hello Ada, welcome to Craftfolio</p>", email.HTML)
}

func TestRegistryBodyEscapesHTMLButSubjectDoesNot(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("plain", "{{.Title}}", "<p>{{.Title}}</p>"))

	email, err := r.Render("plain", testBrand(), map[string]any{"Title": "Q3 <Report> & more"})
	require.NoError(t, err)
	assert.Equal(t, "Q3 <Report> & more", email.Subject, "subject lines are not HTML")
	assert.Equal(t, "<p>Q3 &lt;Report&gt; &amp; more</p>", email.HTML)
}

func TestRegistryRegisterRejectsBadTemplates(t *testing.T) {
	r := NewRegistry()
	assert.Error(t, r.Register("bad-subject", "{{.Oops", "<p>fine</p>"))
	assert.Error(t, r.Register("bad-body", "fine", "<p>{{.Oops</p>"))
}

func TestRegistryReRegisterReplaces(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("k", "v1", "<p>v1</p>"))
	require.NoError(t, r.Register("k", "v2", "<p>v2</p>"))

	email, err := r.Render("k", testBrand(), nil)
	require.NoError(t, err)
	assert.Equal(t, "v2", email.Subject)
	assert.Equal(t, []string{"k"}, r.Kinds())
}

func TestRegistryKindsSorted(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("zeta", "s", "b"))
	require.NoError(t, r.Register("alpha", "s", "b"))
	assert.Equal(t, []string{"alpha", "zeta"}, r.Kinds())
}

func TestMustRegisterPanicsOnBadTemplate(t *testing.T) {
	r := NewRegistry()
	assert.Panics(t, func() {
		r.MustRegister("bad", "{{.Oops", "body")
	})
}

func TestDefaultRegistryNotificationTemplate(t *testing.T) {
	r := DefaultRegistry()
	require.Contains(t, r.Kinds(), "notification")

	email, err := r.Render("notification", testBrand(), map[string]any{
		"Title":   "Build finished",
		"Message": "Your export is ready.",
	})
	require.NoError(t, err)
	assert.Equal(t, "Build finished", email.Subject)
	assert.Contains(t, email.HTML, "Your export is ready.")
	assert.Contains(t, email.HTML, "Craftfolio")
}

func TestDefaultRegistrySubjectOverride(t *testing.T) {
	r := DefaultRegistry()

	email, err := r.Render("notification", testBrand(), map[string]any{
		"Title":   "Build finished",
		"Subject": "Custom subject line",
		"Message": "Done.",
	})
	require.NoError(t, err)
	assert.Equal(t, "Custom subject line", email.Subject)
}
