package retrieve

import (
	"intelkernel/internal/graphstore"
	"intelkernel/internal/vectorstore"
)

var (
	_ SemanticSource   = (*vectorstore.Memory)(nil)
	_ RelationalSource = (*graphstore.Memory)(nil)
	_ StructuralSource = (*KeywordIndex)(nil)
)
