package providers

import (
	"github.com/smallbiznis/homeserve/internal/providers/email"
	"github.com/smallbiznis/homeserve/internal/providers/pdf"
	"go.uber.org/fx"
)

var Module = fx.Module("providers",
	email.Module,
	pdf.Module,
)
