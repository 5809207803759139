package ociconfig

import (
	"testing"

	"github.com/stretchr/testify/assert"

	v1 "github.com/opencontainers/image-spec/specs-go/v1"
)

func TestCommonHistoryPrefixLen(t *testing.T) {
	base := []v1.History{
		{CreatedBy: "FROM scratch"},
		{CreatedBy: "RUN apt-get update"},
	}
	update := []v1.History{
		{CreatedBy: "FROM scratch"},
		{CreatedBy: "RUN apt-get update"},
		{CreatedBy: "/bin/sh -c #(nop)  CMD [\"python\" \"app.py\"]", EmptyLayer: true},
	}

	assert.Equal(t, 2, CommonHistoryPrefixLen(base, update))
}

func TestReplayDirectivesNormalizesCmdArray(t *testing.T) {
	update := []v1.History{
		{CreatedBy: "FROM scratch"},
		{CreatedBy: `/bin/sh -c #(nop)  CMD ["python" "app.py"]`, EmptyLayer: true},
	}

	lines := ReplayDirectives(update, 1)
	assert.Equal(t, []string{`CMD ["python","app.py"]`}, lines)
}

func TestReplayDirectivesPassesThroughOtherDirectives(t *testing.T) {
	update := []v1.History{
		{CreatedBy: `/bin/sh -c #(nop)  ENV PATH=/usr/local/bin`, EmptyLayer: true},
		{CreatedBy: `/bin/sh -c #(nop)  EXPOSE 8080/tcp`, EmptyLayer: true},
	}

	lines := ReplayDirectives(update, 0)
	assert.Equal(t, []string{"ENV PATH=/usr/local/bin", "EXPOSE 8080/tcp"}, lines)
}

func TestReplayDirectivesSkipsNonEmptyAndNonNop(t *testing.T) {
	update := []v1.History{
		{CreatedBy: "RUN make install", EmptyLayer: false},
		{CreatedBy: "some comment with no sentinel", EmptyLayer: true},
	}

	lines := ReplayDirectives(update, 0)
	assert.Empty(t, lines)
}

func TestNormalizeDirectiveEntrypoint(t *testing.T) {
	got := normalizeDirective(`ENTRYPOINT ["/usr/bin/myapp" "--flag=value"]`)
	assert.Equal(t, `ENTRYPOINT ["/usr/bin/myapp","--flag=value"]`, got)
}
