// Package marker implements the PLANPILOT_META_V1 metadata block: the
// plain-text, line-based KEY:VALUE section embedded at the top of every
// rendered item body. The block is the sole identity signal linking an
// external item back to its plan item; discovery parses it, renderers emit
// it verbatim.
package marker

import (
	"fmt"
	"strings"
)

// Sentinel lines delimiting the block. The header doubles as the format
// version; a future format bumps the suffix.
const (
	Header = "PLANPILOT_META_V1"
	Footer = "END_PLANPILOT_META"
)

// Recognized field keys.
const (
	KeyPlanID   = "PLAN_ID"
	KeyItemID   = "ITEM_ID"
	KeyItemType = "ITEM_TYPE"
	KeyParentID = "PARENT_ID"
)

// Block is a parsed metadata block. ItemType is carried as the raw wire
// string (EPIC, STORY, or TASK); ParentID is empty for top-level items.
type Block struct {
	PlanID   string
	ItemID   string
	ItemType string
	ParentID string
}

// Validate checks that the block satisfies the wire contract.
func (b Block) Validate() error {
	if b.PlanID == "" {
		return fmt.Errorf("marker block missing %s", KeyPlanID)
	}
	if b.ItemID == "" {
		return fmt.Errorf("marker block missing %s", KeyItemID)
	}
	switch b.ItemType {
	case "EPIC", "STORY", "TASK":
	default:
		return fmt.Errorf("marker block has unknown %s %q", KeyItemType, b.ItemType)
	}
	return nil
}

// Render emits the block exactly as the wire contract requires: LF-terminated
// lines, keys in fixed order, PARENT_ID present even when empty.
func (b Block) Render() string {
	var sb strings.Builder
	sb.WriteString(Header)
	sb.WriteByte('\n')
	sb.WriteString(KeyPlanID)
	sb.WriteByte(':')
	sb.WriteString(b.PlanID)
	sb.WriteByte('\n')
	sb.WriteString(KeyItemID)
	sb.WriteByte(':')
	sb.WriteString(b.ItemID)
	sb.WriteByte('\n')
	sb.WriteString(KeyItemType)
	sb.WriteByte(':')
	sb.WriteString(b.ItemType)
	sb.WriteByte('\n')
	sb.WriteString(KeyParentID)
	sb.WriteByte(':')
	sb.WriteString(b.ParentID)
	sb.WriteByte('\n')
	sb.WriteString(Footer)
	sb.WriteByte('\n')
	return sb.String()
}

// Parse extracts the first metadata block from a body. Lines between the
// header and footer sentinels are split on the first colon; values tolerate
// surrounding whitespace; unrecognized keys are ignored for forward
// compatibility. Bodies without a complete block fail.
func Parse(body string) (*Block, error) {
	lines := strings.Split(body, "\n")

	start := -1
	for i, line := range lines {
		if strings.TrimSpace(line) == Header {
			start = i
			break
		}
	}
	if start == -1 {
		return nil, fmt.Errorf("no %s block found", Header)
	}

	var b Block
	closed := false
	for _, line := range lines[start+1:] {
		trimmed := strings.TrimSpace(line)
		if trimmed == Footer {
			closed = true
			break
		}
		key, value, ok := strings.Cut(trimmed, ":")
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)
		switch strings.TrimSpace(key) {
		case KeyPlanID:
			b.PlanID = value
		case KeyItemID:
			b.ItemID = value
		case KeyItemType:
			b.ItemType = value
		case KeyParentID:
			b.ParentID = value
		}
	}
	if !closed {
		return nil, fmt.Errorf("%s block is not terminated by %s", Header, Footer)
	}

	if err := b.Validate(); err != nil {
		return nil, err
	}
	return &b, nil
}

// Contains reports whether the body carries a block header. Cheaper than a
// full parse when only presence matters.
func Contains(body string) bool {
	return strings.Contains(body, Header)
}

// DiscoveryToken returns the body substring that selects items of one plan
// during discovery.
func DiscoveryToken(planID string) string {
	return KeyPlanID + ":" + planID
}
