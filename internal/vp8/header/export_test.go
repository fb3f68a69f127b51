package header

import "github.com/rcarmo/go-vp8/internal/vp8/probs"

// Probabilities returns a copy of the committed probability context.
func (p *Parser) Probabilities() probs.Context { return p.st.probs }
