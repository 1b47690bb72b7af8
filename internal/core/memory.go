package core

import "time"

// MemoryType categorizes what an agent learned.
type MemoryType string

const (
	MemoryErrorFix          MemoryType = "error_fix"
	MemoryDiscovery         MemoryType = "discovery"
	MemoryDecision          MemoryType = "decision"
	MemoryLearning          MemoryType = "learning"
	MemoryWarning           MemoryType = "warning"
	MemoryCodebaseKnowledge MemoryType = "codebase_knowledge"
)

// ValidMemoryType reports whether t is a known memory type.
func ValidMemoryType(t MemoryType) bool {
	switch t {
	case MemoryErrorFix, MemoryDiscovery, MemoryDecision,
		MemoryLearning, MemoryWarning, MemoryCodebaseKnowledge:
		return true
	}
	return false
}

// Memory is a discovery an agent chose to persist for later retrieval.
type Memory struct {
	ID           string
	AgentID      string
	Content      string
	MemoryType   MemoryType
	EmbeddingID  string
	Tags         []string
	RelatedFiles []string
	CreatedAt    time.Time
}

// NearDuplicateThreshold is the cosine similarity above which a new memory
// is treated as a duplicate of an existing one and not stored again.
const NearDuplicateThreshold = 0.95
