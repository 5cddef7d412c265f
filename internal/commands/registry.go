package commands

import (
	"unmute-bot/pkg/cmd"
)

// Register adds every operator command to reg. All of them are guild-only,
// administrator-only and logged.
func Register(reg *cmd.Registry, deps Deps) {
	list := []cmd.Command{
		&JoinChannel{Deps: deps},
		&LeaveChannel{Deps: deps},
		&JoinHome{Deps: deps},
		&LeaveHome{Deps: deps},
		&PlayJoin{Deps: deps},
		&EncodeAudio{Deps: deps},
		&VoiceStatus{Deps: deps},
	}
	if deps.Catalogue != nil {
		for _, g := range deps.Catalogue.Greetings() {
			list = append(list, &PlayGreeting{Deps: deps, Greeting: g})
		}
	}

	for _, c := range list {
		reg.Register(cmd.Apply(c,
			WithAdminOnly(),
			WithGuildOnly(),
			WithCommandLogger(),
		))
	}
}
