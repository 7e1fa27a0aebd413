package server

import (
	"context"
	"time"

	"commi8/internal/config"

	lkauth "github.com/livekit/protocol/auth"
	"github.com/livekit/protocol/livekit"
	lksdk "github.com/livekit/server-sdk-go/v2"
)

const voiceTokenTTL = 6 * time.Hour

// RTC hands out LiveKit join tokens for voice channels and cleans up their
// rooms.
type RTC struct {
	url    string
	key    string
	secret string
	rooms  *lksdk.RoomServiceClient
}

func NewRTC(cfg config.LiveKit) *RTC {
	return &RTC{
		url:    cfg.URL,
		key:    cfg.Key,
		secret: cfg.Secret,
		rooms:  lksdk.NewRoomServiceClient(cfg.URL, cfg.Key, cfg.Secret),
	}
}

// Token grants identity the right to join room.
func (r *RTC) Token(room, identity, name string) (string, error) {
	grant := &lkauth.VideoGrant{RoomJoin: true, Room: room}
	at := lkauth.NewAccessToken(r.key, r.secret)
	at.AddGrant(grant).
		SetIdentity(identity).
		SetName(name).
		SetValidFor(voiceTokenTTL)

	return at.ToJWT()
}

func (r *RTC) DeleteRoom(ctx context.Context, room string) error {
	_, err := r.rooms.DeleteRoom(ctx, &livekit.DeleteRoomRequest{Room: room})
	return err
}
