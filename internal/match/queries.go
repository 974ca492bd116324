package match

import (
	"context"
	"strings"

	"github.com/park285/Cheese-Challenge-bot/internal/util"
)

const foldAfter = 5

type Standing struct {
	Rank   int
	UserID string
	Name   string
	Value  int
}

// Rating returns the user's rating for game, the starting value if none yet.
func (s *Service) Rating(ctx context.Context, userID, game string) (int, error) {
	g, err := s.Game(game)
	if err != nil {
		return 0, err
	}
	if strings.TrimSpace(userID) == "" {
		return 0, invalid("user is required")
	}
	return s.ratings.GetRating(ctx, userID, g)
}

// Leaderboard returns the top n ratings for game. Equal values share a rank.
func (s *Service) Leaderboard(ctx context.Context, game string, n int) (string, []Standing, error) {
	g, err := s.Game(game)
	if err != nil {
		return "", nil, err
	}
	if n <= 0 {
		n = 10
	}
	top, err := s.ratings.TopRatings(ctx, g, n)
	if err != nil {
		return g, nil, err
	}
	out := make([]Standing, 0, len(top))
	for i, r := range top {
		rank := i + 1
		if i > 0 && r.Value == top[i-1].Value {
			rank = out[i-1].Rank
		}
		out = append(out, Standing{Rank: rank, UserID: r.UserID, Name: s.name(ctx, r.UserID), Value: r.Value})
	}
	return g, out, nil
}

// FormatLeaderboard renders standings as chat text. Long boards are folded
// behind KakaoTalk's "see more".
func (s *Service) FormatLeaderboard(game string, standings []Standing) string {
	if len(standings) == 0 {
		return s.texts.Text("leaderboard.empty", map[string]any{"Game": game})
	}
	header := s.texts.Text("leaderboard.header", map[string]any{"Game": game, "Size": len(standings)})
	var b strings.Builder
	b.WriteString(header)
	for _, st := range standings {
		b.WriteString("\n")
		b.WriteString(s.texts.Text("leaderboard.row", map[string]any{"Rank": st.Rank, "Name": st.Name, "Value": st.Value}))
	}
	if len(standings) > foldAfter {
		return util.FoldAfterHeader(b.String(), header)
	}
	return b.String()
}
