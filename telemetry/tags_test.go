package telemetry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTaggedRequest() *http.Request {
	r := httptest.NewRequest(http.MethodGet, "/test", nil)
	return InjectTags(r)
}

func TestInjectTags_Empty(t *testing.T) {
	r := newTaggedRequest()
	tags := GetTags(r)
	require.NotNil(t, tags)
	require.Empty(t, tags.Route)
	require.Empty(t, tags.Archive)
}

func TestGetTags_NilWithoutInject(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/test", nil)
	require.Nil(t, GetTags(r))
}

func TestSetRoute(t *testing.T) {
	r := newTaggedRequest()
	SetRoute(r, "/feed.xml")
	require.Equal(t, "/feed.xml", GetTags(r).Route)
}

func TestSetArchive(t *testing.T) {
	r := newTaggedRequest()
	SetArchive(r, "abcd1234")
	require.Equal(t, "abcd1234", GetTags(r).Archive)
}

func TestSetters_NoopWithoutInject(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/test", nil)
	SetRoute(r, "/feed.xml")
	SetArchive(r, "abcd")
	require.Nil(t, GetTags(r))
}

func TestSourceFromContext(t *testing.T) {
	require.Equal(t, "unknown", SourceFromContext(context.Background()))
	ctx := WithSource(context.Background(), "scrap")
	require.Equal(t, "scrap", SourceFromContext(ctx))
}
