package toolgate

import (
	"github.com/yourusername/toolgate/middleware"
)

// Re-export the gate middleware for embedding in tool services
type Gate = middleware.Gate

// NewGate creates a new admission gate
var NewGate = middleware.NewGate
