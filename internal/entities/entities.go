// Package entities holds the sync capability of every entity family the
// client synchronizes.
package entities

import (
	"github.com/xelth-com/taskchat-sync/internal/models"
	"github.com/xelth-com/taskchat-sync/internal/sync"
)

var (
	Tasks       = sync.Passthrough[models.Task]{Kind: sync.EntityTypeTask}
	Teams       = sync.Passthrough[models.Team]{Kind: sync.EntityTypeTeam}
	TeamMembers = sync.Passthrough[models.TeamMember]{Kind: sync.EntityTypeTeamMember}
)

// Messages strips device-local state before pushing and keeps downloaded
// attachments when a newer remote version arrives
type Messages struct{}

func (Messages) Type() sync.EntityType { return sync.EntityTypeMessage }

func (Messages) PendingPayload(rec sync.Record[models.Message]) models.Message {
	m := rec.Payload
	m.ReadLocally = false
	if len(m.Attachments) > 0 {
		atts := make([]models.Attachment, len(m.Attachments))
		for i, a := range m.Attachments {
			a.LocalPath = ""
			atts[i] = a
		}
		m.Attachments = atts
	}
	return m
}

func (Messages) ApplyRemote(local sync.Record[models.Message], remote sync.RemoteEntity[models.Message]) models.Message {
	m := remote.Payload
	m.ReadLocally = local.Payload.ReadLocally
	if len(m.Attachments) == 0 || len(local.Payload.Attachments) == 0 {
		return m
	}
	paths := make(map[string]string, len(local.Payload.Attachments))
	for _, a := range local.Payload.Attachments {
		if a.URL != "" && a.LocalPath != "" {
			paths[a.URL] = a.LocalPath
		}
	}
	atts := make([]models.Attachment, len(m.Attachments))
	for i, a := range m.Attachments {
		if p, ok := paths[a.URL]; ok {
			a.LocalPath = p
		}
		atts[i] = a
	}
	m.Attachments = atts
	return m
}

// Documents keeps the downloaded copy as long as the remote file is unchanged
type Documents struct{}

func (Documents) Type() sync.EntityType { return sync.EntityTypeDocument }

func (Documents) PendingPayload(rec sync.Record[models.Document]) models.Document {
	d := rec.Payload
	d.LocalPath = ""
	return d
}

func (Documents) ApplyRemote(local sync.Record[models.Document], remote sync.RemoteEntity[models.Document]) models.Document {
	d := remote.Payload
	if local.Payload.LocalPath != "" && local.Payload.Checksum == d.Checksum && local.Payload.URL == d.URL {
		d.LocalPath = local.Payload.LocalPath
	}
	return d
}

// Users keeps the cached avatar while the avatar URL is unchanged
type Users struct{}

func (Users) Type() sync.EntityType { return sync.EntityTypeUser }

func (Users) PendingPayload(rec sync.Record[models.User]) models.User {
	u := rec.Payload
	u.AvatarLocalPath = ""
	return u
}

func (Users) ApplyRemote(local sync.Record[models.User], remote sync.RemoteEntity[models.User]) models.User {
	u := remote.Payload
	if local.Payload.AvatarURL == u.AvatarURL {
		u.AvatarLocalPath = local.Payload.AvatarLocalPath
	}
	return u
}
