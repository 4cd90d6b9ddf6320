package logger

const (
	ComponentMain   = "main"
	ComponentKey    = "odpkey"
	ComponentExec   = "odpexec"
	ComponentCommit = "commit"
	ComponentText   = "odptext"
	ComponentBench  = "bench"
	ComponentCLI    = "cli"
	ComponentConfig = "configd"
)
