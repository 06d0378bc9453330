package guildmate

import (
	"encoding/json"
	"fmt"

	"github.com/bwmarrin/discordgo"
)

// InteractionLog records every Discord interaction received, with the
// full interaction payload for later inspection.
type InteractionLog struct {
	ModelUintID
	InteractionID string `json:"interaction_id" gorm:"not null"`
	Type          string `json:"type" gorm:"type:string"`
	CommandName   string `json:"command_name" gorm:"type:string"`
	UserID        string `json:"user_id" gorm:"not null"`
	Username      string `json:"username" gorm:"type:string"`
	AppID         string `json:"application_id" gorm:"type:string"`
	GuildID       string `json:"guild_id" gorm:"type:string"`
	ChannelID     string `json:"channel_id" gorm:"type:string"`
	Payload       string `json:"payload" gorm:"type:string"`
	CreatedAt     int64  `gorm:"autoCreateTime:milli" json:"created_at,omitempty"`
}

func (InteractionLog) TableName() string {
	return "interaction_log"
}

func newInteractionLog(
	i *discordgo.InteractionCreate,
	u *discordgo.User,
) (*InteractionLog, error) {
	p, err := json.Marshal(i)
	if err != nil {
		return nil, fmt.Errorf("error marshaling interaction: %w", err)
	}

	interactionLog := &InteractionLog{
		InteractionID: i.ID,
		Type:          i.Type.String(),
		GuildID:       i.GuildID,
		ChannelID:     i.ChannelID,
		AppID:         i.AppID,
		Payload:       string(p),
	}
	if u != nil {
		interactionLog.UserID = u.ID
		interactionLog.Username = u.String()
	}
	switch i.Type {
	case discordgo.InteractionApplicationCommand:
		interactionLog.CommandName = i.ApplicationCommandData().Name
	case discordgo.InteractionMessageComponent:
		interactionLog.CommandName = i.MessageComponentData().CustomID
	}
	return interactionLog, nil
}
