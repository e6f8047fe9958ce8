package params

const (
	// ParamsKeySettings stores the ledger settings document.
	ParamsKeySettings = "ledger/settings"
)
