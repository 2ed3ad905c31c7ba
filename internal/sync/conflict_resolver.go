package sync

import (
	"fmt"
)

// Decision is the outcome of resolving one remote entity against local state
type Decision struct {
	Action Action `json:"action"`
	Reason string `json:"reason"`
}

// Resolve decides what to do with a pulled remote entity given the local
// record carrying the same server id, or nil. It is last-writer-wins on
// LastModified: concurrent edits on both sides lose the older one.
func Resolve[P any](local *Record[P], remote RemoteEntity[P]) Decision {
	if local == nil {
		if remote.Deleted {
			return Decision{Action: ActionKeep, Reason: "Remote tombstone for an entity never seen locally"}
		}
		return Decision{Action: ActionInsert, Reason: "No local record with this server id"}
	}

	switch local.Status {
	case StatusPendingCreate, StatusPendingUpdate, StatusPendingDelete:
		return Decision{
			Action: ActionDefer,
			Reason: fmt.Sprintf("Local %s in flight, remote version deferred", local.Status),
		}
	case StatusSynced:
		return resolveSynced(local, remote)
	default:
		return Decision{Action: ActionDefer, Reason: fmt.Sprintf("Unknown local status %s", local.Status)}
	}
}

func resolveSynced[P any](local *Record[P], remote RemoteEntity[P]) Decision {
	if remote.Deleted {
		if remote.LastModified.Before(local.LastModified) {
			return Decision{Action: ActionKeep, Reason: "Remote tombstone is older than local version"}
		}
		return Decision{Action: ActionRemove, Reason: "Entity deleted remotely"}
	}

	if remote.LastModified.After(local.LastModified) {
		return Decision{
			Action: ActionOverwrite,
			Reason: fmt.Sprintf("Remote timestamp (%s) is more recent than local (%s)", remote.LastModified, local.LastModified),
		}
	}
	if remote.LastModified.Equal(local.LastModified) {
		return Decision{Action: ActionKeep, Reason: "Remote version already applied"}
	}
	return Decision{
		Action: ActionKeep,
		Reason: fmt.Sprintf("Local timestamp (%s) is more recent than remote (%s)", local.LastModified, remote.LastModified),
	}
}
