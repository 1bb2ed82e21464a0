package editsqlite

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKeys(t *testing.T) {
	require.Equal(t, "triage:1:draft:msg-1", draftKey("triage", 1, "msg-1"))
	require.Equal(t, "triage:1:pending", pendingKey("triage", 1))

	pk, ok := parseKey("triage:2:draft:msg:with:colons")
	require.True(t, ok)
	require.Equal(t, parsedKey{namespace: "triage", schemaVersion: 2, kind: kindDraft, recordID: "msg:with:colons"}, pk)

	pk, ok = parseKey("triage:1:pending")
	require.True(t, ok)
	require.Equal(t, kindPending, pk.kind)

	for _, bad := range []string{"triage", "triage:x:draft:a", "triage:1:draft:", "triage:1:other:a", "triage:1:pending:extra"} {
		_, ok := parseKey(bad)
		require.False(t, ok, bad)
	}
}
