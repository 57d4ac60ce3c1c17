package telegram

import "mangabot/pkg/chat"

const (
	// DriverType is the driver identity token exposed to the kernel.
	DriverType = "telegram"
	// DriverPlatform is the neutral platform produced by this driver.
	DriverPlatform chat.Platform = chat.PlatformTelegram
)
