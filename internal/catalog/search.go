package catalog

import (
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

var tokenRe = regexp.MustCompile(`[a-z0-9]+`)

func tokens(s string) []string {
	return tokenRe.FindAllString(strings.ToLower(s), -1)
}

func stripExt(name string) string {
	return strings.TrimSuffix(name, filepath.Ext(name))
}

// orderedGap returns how many extra tokens sit between the query tokens when they
// appear in order inside title, or -1 if they do not.
func orderedGap(query, title []string) int {
	positions := make([]int, 0, len(query))
	start := 0
	for _, tok := range query {
		found := -1
		for i := start; i < len(title); i++ {
			if title[i] == tok {
				found = i
				break
			}
		}
		if found < 0 {
			return -1
		}
		positions = append(positions, found)
		start = found + 1
	}
	gap := (positions[len(positions)-1] - positions[0]) - (len(query) - 1)
	if gap < 0 {
		return 0
	}
	return gap
}

type ranked struct {
	prio  int
	score int
	game  Game
}

// Search ranks games against query. Substring hits come first, then titles that
// contain the query tokens in order, then titles containing all tokens in any order.
func Search(games []Game, query string) []Game {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return games
	}
	qNoExt := strings.ToLower(stripExt(q))
	qTokens := tokens(q)

	best := make(map[string]ranked)
	consider := func(r ranked) {
		key := strings.ToLower(r.game.Name)
		cur, ok := best[key]
		if !ok || r.prio < cur.prio || (r.prio == cur.prio && r.score < cur.score) {
			best[key] = r
		}
	}

	for _, g := range games {
		title := strings.ToLower(g.Name)
		if pos := strings.Index(title, q); pos >= 0 {
			consider(ranked{prio: 0, score: pos, game: g})
		} else if pos := strings.Index(stripExt(title), qNoExt); qNoExt != "" && pos >= 0 {
			consider(ranked{prio: 0, score: pos, game: g})
		}
		if len(qTokens) == 0 {
			continue
		}
		tt := tokens(g.Name)
		if gap := orderedGap(qTokens, tt); gap >= 0 {
			consider(ranked{prio: 1, score: gap, game: g})
		}
		set := make(map[string]struct{}, len(tt))
		for _, t := range tt {
			set[t] = struct{}{}
		}
		all := true
		for _, t := range qTokens {
			if _, ok := set[t]; !ok {
				all = false
				break
			}
		}
		if all {
			consider(ranked{prio: 2, score: len(set), game: g})
		}
	}

	list := make([]ranked, 0, len(best))
	for _, r := range best {
		list = append(list, r)
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].prio != list[j].prio {
			return list[i].prio < list[j].prio
		}
		if list[i].score != list[j].score {
			return list[i].score < list[j].score
		}
		return strings.ToLower(list[i].game.Name) < strings.ToLower(list[j].game.Name)
	})

	res := make([]Game, len(list))
	for i, r := range list {
		res[i] = r.game
	}
	return res
}
