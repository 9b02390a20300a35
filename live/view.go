package live

// ViewKind различает подписку на общий список матчей и на конкретный матч.
type ViewKind int

const (
	ViewGlobal ViewKind = iota
	ViewMatch
)

// View - область подписки подключённого клиента: либо общий список матчей,
// либо один матч. Сравнимое значение, равенство структурное.
type View struct {
	Kind    ViewKind
	MatchID int
}

func GlobalView() View {
	return View{Kind: ViewGlobal}
}

func MatchView(matchID int) View {
	return View{Kind: ViewMatch, MatchID: matchID}
}
