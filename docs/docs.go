//go:build docs

package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	log "github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/cobra/doc"

	"github.com/maxgio92/crashenv/internal/settings"
	"github.com/maxgio92/crashenv/pkg/cmd"
	"github.com/maxgio92/crashenv/pkg/cmd/options"
)

const (
	docsDir        = "docs"
	manDir         = "docs/man"
	readmeTemplate = "README.md.tpl"
	readme         = "README.md"
	templateMarker = "{{ .CLI_REFERENCE }}"
)

func main() {
	logger := log.New(log.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	root := cmd.NewCommand(options.NewOptions(options.WithLogger(logger)))
	root.DisableAutoGenTag = true

	if err := generate(root); err != nil {
		logger.Fatal().Err(err).Msg("cannot generate the documentation")
	}
	logger.Info().Str("dir", docsDir).Msg("documentation generated")
}

func generate(root *cobra.Command) error {
	if err := doc.GenMarkdownTreeCustom(root, docsDir, func(string) string { return "" }, linkHandler); err != nil {
		return errors.Wrap(err, "error generating the markdown reference")
	}

	if err := os.MkdirAll(manDir, 0o755); err != nil {
		return errors.Wrap(err, "error creating the man page directory")
	}
	header := &doc.GenManHeader{
		Title:   strings.ToUpper(settings.CmdName),
		Section: "1",
		Source:  settings.CmdName,
		Manual:  "crash environment capture",
	}
	if err := doc.GenManTree(root, header, manDir); err != nil {
		return errors.Wrap(err, "error generating the man pages")
	}

	return writeReadme(root)
}

// writeReadme replaces the marker of the README template with a command
// index linking the generated pages.
func writeReadme(root *cobra.Command) error {
	tpl, err := os.ReadFile(readmeTemplate)
	if err != nil {
		return errors.Wrap(err, "error reading the README template")
	}

	var ref bytes.Buffer
	ref.WriteString("## Commands\n\n")
	fmt.Fprintf(&ref, "| command | description |\n|---|---|\n")
	for _, c := range root.Commands() {
		if !c.IsAvailableCommand() || c.IsAdditionalHelpTopicCommand() {
			continue
		}
		page := strings.ReplaceAll(c.CommandPath(), " ", "_") + ".md"
		fmt.Fprintf(&ref, "| [`%s`](%s) | %s |\n", c.CommandPath(), linkHandler(page), c.Short)
	}

	out := strings.Replace(string(tpl), templateMarker, ref.String(), 1)

	return errors.Wrap(os.WriteFile(readme, []byte(out), 0o644), "error writing the README")
}

func linkHandler(name string) string {
	if name == settings.CmdName+".md" {
		return readme
	}
	return filepath.ToSlash(filepath.Join(docsDir, name))
}
