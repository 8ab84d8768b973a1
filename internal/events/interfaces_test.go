package events

import "intelkernel/internal/patternstore"

var _ IdempotencyStore = (*patternstore.Memory)(nil)
