package policy

// Category tokens.
const (
	CategoryGames         = "games"
	CategorySocial        = "social"
	CategoryVideo         = "video"
	CategoryEntertainment = "entertainment"
)

// DefaultApps is the built-in catalog. Patterns are the process names seen
// on macOS and Linux.
func DefaultApps() []AppPolicy {
	return []AppPolicy{
		App{
			AppID:       "steam",
			DisplayName: "Steam",
			CategoryID:  CategoryGames,
			Patterns:    []string{"Steam", "steam_osx", "steamwebhelper", "Steam Helper"},
		},
		App{
			AppID:       "dota2",
			DisplayName: "Dota 2",
			CategoryID:  CategoryGames,
			Patterns:    []string{"dota2", "dota 2"},
		},
		App{
			AppID:       "minecraft",
			DisplayName: "Minecraft",
			CategoryID:  CategoryGames,
			Patterns:    []string{"Minecraft", "minecraft-launcher"},
		},
		App{
			AppID:       "league",
			DisplayName: "League of Legends",
			CategoryID:  CategoryGames,
			Patterns:    []string{"LeagueClient", "League of Legends"},
		},
		App{
			AppID:       "discord",
			DisplayName: "Discord",
			CategoryID:  CategorySocial,
			Patterns:    []string{"Discord"},
		},
		App{
			AppID:       "slack",
			DisplayName: "Slack",
			CategoryID:  CategorySocial,
			Patterns:    []string{"Slack"},
		},
		App{
			AppID:       "telegram",
			DisplayName: "Telegram",
			CategoryID:  CategorySocial,
			Patterns:    []string{"Telegram"},
		},
		App{
			AppID:       "whatsapp",
			DisplayName: "WhatsApp",
			CategoryID:  CategorySocial,
			Patterns:    []string{"WhatsApp"},
		},
		App{
			AppID:       "vlc",
			DisplayName: "VLC",
			CategoryID:  CategoryVideo,
			Patterns:    []string{"VLC"},
		},
		App{
			AppID:       "iina",
			DisplayName: "IINA",
			CategoryID:  CategoryVideo,
			Patterns:    []string{"IINA"},
		},
		App{
			AppID:       "spotify",
			DisplayName: "Spotify",
			CategoryID:  CategoryEntertainment,
			Patterns:    []string{"Spotify"},
		},
		App{
			AppID:       "music",
			DisplayName: "Music",
			CategoryID:  CategoryEntertainment,
			Patterns:    []string{"Music"},
		},
	}
}
