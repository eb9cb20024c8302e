package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/brightpath-advice/advicegen/internal/model"
)

var templatesCmd = &cobra.Command{
	Use:   "templates",
	Short: "Manage versioned document templates",
}

var (
	tmplDocType  string
	tmplVariant  string
	tmplHTMLPath string
	tmplCSSPath  string
	tmplActivate bool
)

var templatesSaveCmd = &cobra.Command{
	Use:   "save",
	Short: "Save a new template version from local files",
	RunE: func(cmd *cobra.Command, args []string) error {
		docType := model.DocumentType(tmplDocType)
		if !docType.Valid() {
			return fmt.Errorf("unknown document type %q", tmplDocType)
		}
		if tmplHTMLPath == "" {
			return eris.New("cmd: --html is required")
		}

		html, err := os.ReadFile(tmplHTMLPath)
		if err != nil {
			return eris.Wrapf(err, "cmd: read %s", tmplHTMLPath)
		}
		var css []byte
		if tmplCSSPath != "" {
			css, err = os.ReadFile(tmplCSSPath)
			if err != nil {
				return eris.Wrapf(err, "cmd: read %s", tmplCSSPath)
			}
		}

		st, err := openStore(cmd.Context())
		if err != nil {
			return eris.Wrap(err, "cmd: open store")
		}
		defer st.Close()
		if err := st.Migrate(cmd.Context()); err != nil {
			return eris.Wrap(err, "cmd: migrate store")
		}

		t, err := st.SaveTemplate(cmd.Context(), model.Template{
			DocType: docType,
			Variant: tmplVariant,
			HTML:    string(html),
			CSS:     string(css),
			Active:  tmplActivate,
		})
		if err != nil {
			return eris.Wrap(err, "cmd: save template")
		}

		zap.L().Info("template saved",
			zap.String("template_id", t.ID),
			zap.String("doc_type", string(t.DocType)),
			zap.String("variant", t.Variant),
			zap.Int("version", t.Version),
			zap.Bool("active", t.Active),
		)
		return nil
	},
}

var templatesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List template versions for a document type",
	RunE: func(cmd *cobra.Command, args []string) error {
		docType := model.DocumentType(tmplDocType)
		if !docType.Valid() {
			return fmt.Errorf("unknown document type %q", tmplDocType)
		}

		st, err := openStore(cmd.Context())
		if err != nil {
			return eris.Wrap(err, "cmd: open store")
		}
		defer st.Close()

		templates, err := st.ListTemplates(cmd.Context(), docType)
		if err != nil {
			return eris.Wrap(err, "cmd: list templates")
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tVARIANT\tVERSION\tACTIVE\tCREATED")
		for _, t := range templates {
			fmt.Fprintf(w, "%s\t%s\t%d\t%t\t%s\n",
				t.ID, t.Variant, t.Version, t.Active, t.CreatedAt.Format("2006-01-02 15:04"))
		}
		return w.Flush()
	},
}

var templatesActivateCmd = &cobra.Command{
	Use:   "activate <template-id>",
	Short: "Make a template version the active one for its variant",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore(cmd.Context())
		if err != nil {
			return eris.Wrap(err, "cmd: open store")
		}
		defer st.Close()

		if err := st.ActivateTemplate(cmd.Context(), args[0]); err != nil {
			return eris.Wrap(err, "cmd: activate template")
		}
		zap.L().Info("template activated", zap.String("template_id", args[0]))
		return nil
	},
}

func init() {
	templatesCmd.PersistentFlags().StringVar(&tmplDocType, "doc-type", "soa", "document type: soa, roa, soe, kiwisaver")
	templatesSaveCmd.Flags().StringVar(&tmplVariant, "variant", "default", "template variant")
	templatesSaveCmd.Flags().StringVar(&tmplHTMLPath, "html", "", "path to template HTML")
	templatesSaveCmd.Flags().StringVar(&tmplCSSPath, "css", "", "path to template CSS")
	templatesSaveCmd.Flags().BoolVar(&tmplActivate, "activate", false, "activate the saved version")

	templatesCmd.AddCommand(templatesSaveCmd, templatesListCmd, templatesActivateCmd)
	rootCmd.AddCommand(templatesCmd)
}
