package discord

import "github.com/bwmarrin/discordgo"

// Slash command names.
const (
	cmdSetChannel = "setchannel"
	cmdSetMode    = "setmode"
	cmdReset      = "reset"
	cmdChat       = "chat"
	cmdModels     = "models"
	cmdModes      = "modes"
)

// adminPermission restricts a command's default visibility to administrators.
var adminPermission int64 = discordgo.PermissionAdministrator

// slashCommands returns the command definitions synced on Ready.
func slashCommands() []*discordgo.ApplicationCommand {
	return []*discordgo.ApplicationCommand{
		{
			Name:        cmdSetChannel,
			Description: "毎日のお知らせを送るチャンネルを設定します",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:         discordgo.ApplicationCommandOptionChannel,
					Name:         "channel",
					Description:  "送信先のテキストチャンネル",
					Required:     true,
					ChannelTypes: []discordgo.ChannelType{discordgo.ChannelTypeGuildText},
				},
			},
		},
		{
			Name:        cmdSetMode,
			Description: "ランダムにモードを変更します（会話履歴もリセットされます）",
		},
		{
			Name:        cmdReset,
			Description: "会話履歴をリセットします",
		},
		{
			Name:        cmdChat,
			Description: "いまのモードで話しかけます",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "prompt",
					Description: "話しかける内容",
					Required:    true,
				},
			},
		},
		{
			Name:                     cmdModels,
			Description:              "利用可能なAIモデルを表示します（管理者用）",
			DefaultMemberPermissions: &adminPermission,
		},
		{
			Name:        cmdModes,
			Description: "使えるモードの一覧を表示します",
		},
	}
}
