package main

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/veesix-networks/odp/pkg/flow"
	"github.com/veesix-networks/odp/pkg/nlattr"
	"github.com/veesix-networks/odp/pkg/odp"
	"github.com/veesix-networks/odp/pkg/odptext"
)

func runCommand(ports *odptext.PortMap, name string, args []string) (string, error) {
	switch name {
	case "parse-key":
		return parseKeyCmd(ports, strings.Join(args, " "))
	case "format-key":
		return formatKeyCmd(ports, args)
	case "parse-actions":
		return parseActionsCmd(ports, strings.Join(args, " "))
	case "format-actions":
		return formatActionsCmd(ports, args)
	case "roundtrip":
		return roundtripCmd(ports, strings.Join(args, " "))
	case "help":
		return helpText(), nil
	}
	return "", fmt.Errorf("unknown command %q, try 'help'", name)
}

func helpText() string {
	return strings.TrimSpace(`
Commands:
  parse-key <key text>         parse a flow key, print its wire bytes
  format-key <hex> [hex-mask]  print the text form of wire key bytes
  parse-actions <action text>  parse an action list, print its wire bytes
  format-actions <hex>         print the text form of wire action bytes
  roundtrip <key text>         parse, decode, re-encode and grade a key
  help                         show this help
`)
}

func parseKeyCmd(ports *odptext.PortMap, text string) (string, error) {
	var key, mask nlattr.Builder
	ufid, err := odptext.ParseKey(text, ports, &key, &mask)
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	if ufid != nil {
		fmt.Fprintf(&sb, "ufid:  %s\n", ufid)
	}
	fmt.Fprintf(&sb, "key:   %x\n", key.Bytes())
	fmt.Fprintf(&sb, "mask:  %x", mask.Bytes())
	return sb.String(), nil
}

func formatKeyCmd(ports *odptext.PortMap, args []string) (string, error) {
	if len(args) == 0 {
		return "", fmt.Errorf("format-key needs hex key bytes")
	}
	key, err := hex.DecodeString(args[0])
	if err != nil {
		return "", fmt.Errorf("bad hex key: %w", err)
	}
	if len(args) == 1 {
		return odptext.FormatKey(key, ports), nil
	}
	mask, err := hex.DecodeString(args[1])
	if err != nil {
		return "", fmt.Errorf("bad hex mask: %w", err)
	}
	return odptext.FormatKeyMask(key, mask, ports, false), nil
}

func parseActionsCmd(ports *odptext.PortMap, text string) (string, error) {
	var b nlattr.Builder
	if err := odptext.ParseActions(text, ports, &b); err != nil {
		return "", err
	}
	return fmt.Sprintf("%x", b.Bytes()), nil
}

func formatActionsCmd(ports *odptext.PortMap, args []string) (string, error) {
	if len(args) == 0 {
		return "", fmt.Errorf("format-actions needs hex action bytes")
	}
	actions, err := hex.DecodeString(args[0])
	if err != nil {
		return "", fmt.Errorf("bad hex actions: %w", err)
	}
	return odptext.FormatActions(actions, ports), nil
}

// roundtripCmd pushes a key through the full pipeline: text to wire,
// wire to flow, flow back to wire, wire back to text. A healthy key
// comes back graded perfect with identical text.
func roundtripCmd(ports *odptext.PortMap, text string) (string, error) {
	var key nlattr.Builder
	if _, err := odptext.ParseKey(text, ports, &key, nil); err != nil {
		return "", err
	}

	var f flow.Flow
	fitness := odp.FlowFromKey(key.Bytes(), &f)

	var sb strings.Builder
	fmt.Fprintf(&sb, "fitness: %s\n", fitness)
	fmt.Fprintf(&sb, "ufid:    %s\n", odp.FormatUFID(odp.FlowUFID(key.Bytes())))
	if fitness == odp.FitError {
		return strings.TrimRight(sb.String(), "\n"), nil
	}

	var reenc nlattr.Builder
	odp.KeyFromFlow(&reenc, &f, f.InPort, true)
	fmt.Fprintf(&sb, "re-encoded: %s", odptext.FormatKey(reenc.Bytes(), ports))
	return sb.String(), nil
}
