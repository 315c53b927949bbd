package badge

import (
	"encoding/hex"
	"strconv"

	"streambadge/core/events"
)

const (
	// EventTypeStatusChanged is emitted once per applied status update.
	EventTypeStatusChanged = "badge.status.changed"
	// EventTypeMinted is emitted when a badge record is created and its
	// soulbound token minted.
	EventTypeMinted = "badge.minted"
	// EventTypeDisplayUpdated is emitted when an account's display
	// configuration changes.
	EventTypeDisplayUpdated = "badge.display.updated"
)

func statusChangedEvent(holder [20]byte, id BadgeID, update *StatusUpdate) events.Event {
	return events.Event{
		Type: EventTypeStatusChanged,
		Attributes: map[string]string{
			"badgeId": id.String(),
			"holder":  "0x" + hex.EncodeToString(holder[:]),
			"account": update.Account.String(),
			"asset":   "0x" + hex.EncodeToString(update.Asset[:]),
			"rate":    update.Rate.Dec(),
			"start":   strconv.FormatUint(uint64(update.Start), 10),
			"end":     strconv.FormatUint(uint64(update.End), 10),
			"kind":    update.Kind.String(),
		},
	}
}

func mintedEvent(id BadgeID, owner [20]byte) events.Event {
	return events.Event{
		Type: EventTypeMinted,
		Attributes: map[string]string{
			"badgeId": id.String(),
			"owner":   "0x" + hex.EncodeToString(owner[:]),
		},
	}
}

func displayUpdatedEvent(account AccountID, caller [20]byte, cfg *DisplayConfig) events.Event {
	return events.Event{
		Type: EventTypeDisplayUpdated,
		Attributes: map[string]string{
			"account": account.String(),
			"caller":  "0x" + hex.EncodeToString(caller[:]),
			"name":    cfg.Name,
		},
	}
}
