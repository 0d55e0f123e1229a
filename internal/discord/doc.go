// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package discord connects the bot to Discord through discordgo.
//
// # Key Types
//
//   - Gateway: session lifecycle, event dispatch, slash command registration
//   - Client: chat.Client over the REST API, with errors mapped to chat.ErrNotFound,
//     chat.ErrForbidden and *chat.TransientError
//
// Slash commands reply through the interaction: rejections are ephemeral
// and the streamed answer edits the interaction response. Generated text is
// sent with mentions disabled.
//
// # Usage
//
//	gw, err := discord.NewGateway(cfg.Authentication.DiscordToken, logger)
//	selfID, err := gw.Open()
//	b, err := bot.New(bot.Options{Config: cfg, Client: gw.Client(), Queue: q, SelfID: selfID})
//	err = gw.RegisterCommands(ctx, b.Registry())
//	err = gw.Run(ctx, b)
package discord
