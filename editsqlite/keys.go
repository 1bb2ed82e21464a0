// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package editsqlite

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	kindDraft   = "draft"
	kindPending = "pending"
)

// Keys are "{namespace}:{schemaVersion}:draft:{recordId}" and
// "{namespace}:{schemaVersion}:pending".
func draftKey(namespace string, schemaVersion int, recordID string) string {
	return fmt.Sprintf("%s:%d:%s:%s", namespace, schemaVersion, kindDraft, recordID)
}

func pendingKey(namespace string, schemaVersion int) string {
	return fmt.Sprintf("%s:%d:%s", namespace, schemaVersion, kindPending)
}

func namespacePrefix(namespace string) string {
	return namespace + ":"
}

type parsedKey struct {
	namespace     string
	schemaVersion int
	kind          string
	recordID      string
}

func parseKey(key string) (parsedKey, bool) {
	parts := strings.SplitN(key, ":", 4)
	if len(parts) < 3 {
		return parsedKey{}, false
	}
	sv, err := strconv.Atoi(parts[1])
	if err != nil {
		return parsedKey{}, false
	}
	pk := parsedKey{namespace: parts[0], schemaVersion: sv, kind: parts[2]}
	switch pk.kind {
	case kindDraft:
		if len(parts) != 4 || parts[3] == "" {
			return parsedKey{}, false
		}
		pk.recordID = parts[3]
	case kindPending:
		if len(parts) != 3 {
			return parsedKey{}, false
		}
	default:
		return parsedKey{}, false
	}
	return pk, true
}
