package version

var version = "0.3.0"

func Version() string {
	return version
}
