package main

import "os"

// legacyFlags maps the single-dash spellings the original cmd_line.c
// accepted to the double-dash long flags cobra/pflag expect, so a script
// written against the old CLI still works.
var legacyFlags = map[string]string{
	"-md5":      "--md5",
	"-cat":      "--cat",
	"-info":     "--info",
	"-cat_info": "--cat-info",
	"-crc":      "--crc",
	"-list":     "--list",
	"-direct":   "--direct",
	"-profile":  "--profile",
	"-i":        "--max-inodes",
	"-b":        "--max-blocks",
	"-c":        "--coalesce-distance",
}

func rewriteLegacyArgs(args []string) []string {
	out := make([]string, len(args))
	for i, a := range args {
		if long, ok := legacyFlags[a]; ok {
			out[i] = long
			continue
		}
		out[i] = a
	}
	return out
}

func main() {
	commandInit()
	rootCmd.SetArgs(rewriteLegacyArgs(os.Args[1:]))

	if err := rootCmd.Execute(); err != nil {
		if log != nil {
			log.Errorf("%v", err)
		} else {
			os.Stderr.WriteString(err.Error() + "\n")
		}
		os.Exit(1)
	}
}
