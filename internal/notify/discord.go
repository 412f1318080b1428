package notify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bwmarrin/discordgo"

	"github.com/jensholdgaard/auction-house/internal/config"
)

// Discord posts auction events as messages to a Discord channel.
type Discord struct {
	session   *discordgo.Session
	channelID string
	logger    *slog.Logger
}

// NewDiscord opens a Discord session for the notifier.
func NewDiscord(cfg config.DiscordNotifyConfig, logger *slog.Logger) (*Discord, error) {
	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("creating discord session: %w", err)
	}
	if err := session.Open(); err != nil {
		return nil, fmt.Errorf("opening discord session: %w", err)
	}
	return &Discord{session: session, channelID: cfg.ChannelID, logger: logger}, nil
}

// Close shuts down the Discord session.
func (d *Discord) Close() error { return d.session.Close() }

func (d *Discord) send(ctx context.Context, msg string) {
	if _, err := d.session.ChannelMessageSend(d.channelID, msg); err != nil {
		d.logger.WarnContext(ctx, "discord send failed", slog.Any("error", err))
	}
}

func (d *Discord) BidUpdated(ctx context.Context, auctionID string) {
	d.send(ctx, fmt.Sprintf("New high bid on auction `%s`", auctionID))
}

func (d *Discord) AuctionEnded(ctx context.Context, auctionID string) {
	d.send(ctx, fmt.Sprintf("Auction `%s` has ended", auctionID))
}

func (d *Discord) OfferUpdated(ctx context.Context, auctionID string) {
	d.send(ctx, fmt.Sprintf("Offer activity on auction `%s`", auctionID))
}
