package model

// Account is one pooled automation identity. Provisioned externally,
// registered into the pool at connect time.
type Account struct {
	ID               string `json:"id"`
	ChannelID        string `json:"channelId"`
	GuildID          string `json:"guildId"`
	PrivateChannelID string `json:"privateChannelId,omitempty"`
	NijiChannelID    string `json:"nijiBotChannelId,omitempty"`

	// Credentials are opaque to the core; the platform client consumes them.
	UserToken string `json:"userToken,omitempty"`
	UserAgent string `json:"userAgent,omitempty"`

	Enable     bool `json:"enable"`
	EnableMJ   bool `json:"enableMj"`
	EnableNiji bool `json:"enableNiji"`

	CanBlend    bool `json:"isBlend"`
	CanDescribe bool `json:"isDescribe"`
	CanShorten  bool `json:"isShorten"`

	// Remix flags change whether edit operations require a confirmation
	// dialog on this account, per variant.
	MJRemixOn       bool `json:"mjRemixOn"`
	NijiRemixOn     bool `json:"nijiRemixOn"`
	RemixAutoSubmit bool `json:"remixAutoSubmit"`

	CoreSize       int     `json:"coreSize"`
	QueueSize      int     `json:"queueSize"`
	MaxQueueSize   int     `json:"maxQueueSize"`
	TimeoutMinutes int     `json:"timeoutMinutes"`
	Interval       float64 `json:"interval"`

	Weight int `json:"weight"`
	Sort   int `json:"sort"`

	Mode       string   `json:"mode,omitempty"`
	AllowModes []string `json:"allowModes,omitempty"`

	// SubChannels maps sub-channel id -> owning channel id; only instances
	// owning a sub-channel may serve tasks bound to it.
	SubChannels map[string]string `json:"subChannelValues,omitempty"`

	Buttons     []Button `json:"buttons,omitempty"`
	NijiButtons []Button `json:"nijiButtons,omitempty"`
}

// ServesVariant reports whether the account serves the given bot variant.
func (a *Account) ServesVariant(v BotVariant) bool {
	switch v {
	case VariantMidjourney:
		return a.EnableMJ
	case VariantNiji:
		return a.EnableNiji
	}
	return false
}

// RemixOn reports whether remix mode is active for the variant, which
// forces edit operations through the confirmation dialog.
func (a *Account) RemixOn(v BotVariant) bool {
	if v == VariantNiji {
		return a.NijiRemixOn
	}
	return a.MJRemixOn
}

// OwnsSubChannel reports sub-channel ownership.
func (a *Account) OwnsSubChannel(id string) bool {
	_, ok := a.SubChannels[id]
	return ok
}

// VariantButtons returns the settings components for the variant.
func (a *Account) VariantButtons(v BotVariant) []Button {
	if v == VariantNiji {
		return a.NijiButtons
	}
	return a.Buttons
}
