package render

import (
	"errors"
	"testing"

	"github.com/smallbiznis/newsdesk/internal/apperr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chainVars() map[string]any {
	return map[string]any{
		"article": map[string]any{"title": "Hope", "url": "https://herald.example/hope", "summary": ""},
		"account": map[string]any{"id": "42", "name": "Daily Light", "settings": map[string]any{"tone": "warm"}},
		"prior": map[string]any{
			"blog_post":    map[string]any{"text": "About Hope"},
			"social_media": map[string]any{"hashtags": []any{"hope", "faith"}, "items": []any{map[string]any{"text": "first"}}},
		},
		"count": 3.0,
	}
}

func TestRenderResolvesPaths(t *testing.T) {
	out, err := Render("Write about {{article.title}} for {{ account.name }}", chainVars())
	require.NoError(t, err)
	assert.Equal(t, "Write about Hope for Daily Light", out)

	out, err = Render("Tease: {{prior.blog_post.text}}", chainVars())
	require.NoError(t, err)
	assert.Equal(t, "Tease: About Hope", out)
}

func TestRenderFormatsValues(t *testing.T) {
	out, err := Render("{{prior.social_media.hashtags}} / {{count}} / {{prior.social_media.items.0.text}}", chainVars())
	require.NoError(t, err)
	assert.Equal(t, "hope, faith / 3 / first", out)
}

func TestRenderEmptyStringIsResolved(t *testing.T) {
	out, err := Render("[{{article.summary}}]", chainVars())
	require.NoError(t, err)
	assert.Equal(t, "[]", out)
}

func TestRenderOptionalAndDefault(t *testing.T) {
	out, err := Render("{{blog.id?}}|{{account.settings.voice | plain}}|{{account.settings.tone | plain}}", chainVars())
	require.NoError(t, err)
	assert.Equal(t, "|plain|warm", out)
}

func TestRenderUnresolvedIsDeterministicFailure(t *testing.T) {
	_, err := Render("{{prior.video.title}} {{article.author}} {{article.author}}", chainVars())
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindTemplateVariableUnresolved))
	assert.False(t, apperr.IsRetryable(err))

	var unresolved *UnresolvedError
	require.True(t, errors.As(err, &unresolved))
	assert.Equal(t, []string{"article.author", "prior.video.title"}, unresolved.Paths)
}

func TestRenderFlatVariables(t *testing.T) {
	out, err := Render("About {{article.title}}", map[string]any{"article.title": "Flat"})
	require.NoError(t, err)
	assert.Equal(t, "About Flat", out)
}

func TestPlaceholders(t *testing.T) {
	got := Placeholders("{{a.b}} {{c?}} {{d | x y}}")
	require.Len(t, got, 3)
	assert.Equal(t, Placeholder{Path: "a.b"}, got[0])
	assert.True(t, got[1].Optional)
	assert.Equal(t, Placeholder{Path: "d", HasDefault: true, Default: "x y"}, got[2])
}
