package job

import (
	"context"
	"encoding/json"

	"github.com/yieldera/datahub/internal/derrors"
	"github.com/yieldera/datahub/internal/export"
	"github.com/yieldera/datahub/internal/extract"
	"github.com/yieldera/datahub/internal/model"
)

// NewExportRunner adapts the extractor's export path to the job contract:
// params are the submitted export request, artifacts land in outDir named
// after the job id.
func NewExportRunner(ex *extract.Extractor, pkg export.Packager, outDir string) Runner {
	return func(ctx context.Context, j *model.Job, progress func(int)) (map[string]string, error) {
		var req extract.ExportRequest
		if err := json.Unmarshal(j.Params, &req); err != nil {
			return nil, derrors.Wrap(derrors.KindInternal, err, "decode export params")
		}
		return ex.Export(ctx, req, pkg, outDir, j.ID, progress)
	}
}
