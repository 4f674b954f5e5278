package offlinecache

const (
	// DefaultVersion names the current bucket. Bump it to discard every previously cached response.
	DefaultVersion     = "kilimo-guru-v1"
	DefaultOfflinePath = "/offline/"

	DefaultNotificationTitle = "KILIMO GURU"
	DefaultNotificationIcon  = "/static/images/logo.png"
	DefaultNotificationBadge = "/static/images/badge.png"
	DefaultNotificationURL   = "/"
)

// DefaultAssets returns the paths seeded into the bucket on install.
func DefaultAssets() []string {
	return []string{
		"/",
		"/static/css/main.css",
		"/static/js/main.js",
		"/static/images/logo.png",
		"/static/images/default-avatar.png",
		DefaultOfflinePath,
	}
}

// DefaultVibrate returns the vibration pattern of notifications, in milliseconds.
func DefaultVibrate() []int {
	return []int{100, 50, 100}
}
