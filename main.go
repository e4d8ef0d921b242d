package main

func main() {
	ignoreHangup()

	err := newRootCmd().Execute()
	closeLogFile()

	if err != nil {
		exitOnError(err)
	}
}
