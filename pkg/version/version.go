package version

// Version is the current version of the coachsync server
const Version = "0.1.0"

// UserAgent returns the User-Agent string for HTTP requests
func UserAgent() string {
	return "coachsync/" + Version
}

// ServerHeader returns the Server header value for HTTP responses
func ServerHeader() string {
	return "coachsync/" + Version
}
