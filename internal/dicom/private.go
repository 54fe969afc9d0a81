package dicom

import (
	"fmt"

	"github.com/suyashkumar/dicom/pkg/tag"
)

// Private creator elements live at (gggg,0010)-(gggg,00FF); each one reserves
// the element block (gggg,xx00)-(gggg,xxFF) for its owner.
const (
	firstCreatorSlot = 0x10
	lastCreatorSlot  = 0xFF
)

// PrivateBlock addresses one vendor's reserved element block.
type PrivateBlock struct {
	Group uint16
	Slot  uint16
}

// CreatorTag returns the tag holding the private creator string.
func (b PrivateBlock) CreatorTag() tag.Tag {
	return tag.Tag{Group: b.Group, Element: b.Slot}
}

// ElementTag returns the tag of an element inside the block.
func (b PrivateBlock) ElementTag(offset uint8) tag.Tag {
	return tag.Tag{Group: b.Group, Element: b.Slot<<8 | uint16(offset)}
}

// IsPrivateGroup reports whether group is a valid private (odd, > 0x0008) group.
func IsPrivateGroup(group uint16) bool {
	return group%2 == 1 && group > 0x0008 && group != 0xFFFF
}

// FindPrivateBlock looks up the block reserved by creator in group.
func (d *Dataset) FindPrivateBlock(group uint16, creator string) (PrivateBlock, bool) {
	for _, elem := range d.Data.Elements {
		if elem.Tag.Group != group {
			continue
		}
		if elem.Tag.Element < firstCreatorSlot || elem.Tag.Element > lastCreatorSlot {
			continue
		}
		if elementString(elem) == creator {
			return PrivateBlock{Group: group, Slot: elem.Tag.Element}, true
		}
	}
	return PrivateBlock{}, false
}

// ReservePrivateBlock returns the block owned by creator, claiming the lowest
// free creator slot in group when none exists yet.
func (d *Dataset) ReservePrivateBlock(group uint16, creator string) (PrivateBlock, error) {
	if !IsPrivateGroup(group) {
		return PrivateBlock{}, fmt.Errorf("group %04X is not a private group", group)
	}
	if block, ok := d.FindPrivateBlock(group, creator); ok {
		return block, nil
	}

	used := make(map[uint16]bool)
	for _, elem := range d.Data.Elements {
		if elem.Tag.Group == group && elem.Tag.Element >= firstCreatorSlot && elem.Tag.Element <= lastCreatorSlot {
			used[elem.Tag.Element] = true
		}
	}
	for slot := uint16(firstCreatorSlot); slot <= lastCreatorSlot; slot++ {
		if used[slot] {
			continue
		}
		block := PrivateBlock{Group: group, Slot: slot}
		if err := d.SetString(block.CreatorTag(), "LO", creator); err != nil {
			return PrivateBlock{}, err
		}
		return block, nil
	}
	return PrivateBlock{}, fmt.Errorf("no free private creator slot in group %04X", group)
}

// GetPrivateString reads a string element from creator's block.
func (d *Dataset) GetPrivateString(group uint16, creator string, offset uint8) (string, bool) {
	block, ok := d.FindPrivateBlock(group, creator)
	if !ok {
		return "", false
	}
	value := d.GetString(block.ElementTag(offset))
	return value, value != ""
}

// PrivateSlot names one element inside a vendor's private block.
type PrivateSlot struct {
	Group   uint16
	Creator string
	Offset  uint8
}

func (s PrivateSlot) String() string {
	return fmt.Sprintf("(%04X,xx%02X) %q", s.Group, s.Offset, s.Creator)
}

// ReadSlot returns the value stored in slot, if any.
func (d *Dataset) ReadSlot(slot PrivateSlot) (string, bool) {
	return d.GetPrivateString(slot.Group, slot.Creator, slot.Offset)
}

// WriteSlot stores value in slot, reserving the creator block when needed.
func (d *Dataset) WriteSlot(slot PrivateSlot, vr, value string) error {
	block, err := d.ReservePrivateBlock(slot.Group, slot.Creator)
	if err != nil {
		return err
	}
	return d.SetString(block.ElementTag(slot.Offset), vr, value)
}
