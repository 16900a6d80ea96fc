package platform

import (
	"context"
	"log/slog"

	"petri/internal/evo"
	"petri/internal/genome"
	"petri/internal/model"
	"petri/internal/storage"
)

// Snapshot captures every culture as a persistence record.
func (inc *Incubator) Snapshot() model.Population {
	p := model.Population{ID: inc.cfg.PopulationID}
	for _, c := range inc.cultures {
		rec := model.Culture{Name: c.Name(), Generation: c.Generation()}
		for _, e := range c.Entities() {
			rec.Entities = append(rec.Entities, model.Entity{
				ID:       e.ID,
				Genome:   []genome.Gene(e.Genome),
				Fitness:  e.Fitness,
				Species:  e.Species,
				Children: e.Children,
			})
		}
		p.Cultures = append(p.Cultures, rec)
	}
	return storage.Stamp(p)
}

// Save persists the population and champion history. Failures are logged
// and reported as false.
func (inc *Incubator) Save(ctx context.Context) bool {
	if inc.cfg.Store == nil {
		return false
	}
	p := inc.Snapshot()
	if err := inc.cfg.Store.SavePopulation(ctx, p); err != nil {
		inc.logger.Error("save population failed", slog.String("error", err.Error()))
		return false
	}
	if err := inc.cfg.Store.SaveChampions(ctx, p.ID, inc.History()); err != nil {
		inc.logger.Error("save champions failed", slog.String("error", err.Error()))
		return false
	}
	inc.logger.Info("population saved", slog.Int("cultures", len(p.Cultures)))
	return true
}

// Load restores every culture from the stored population, matching them by
// name. It reports true only if each culture was restored. Failures are
// logged, never returned.
func (inc *Incubator) Load(ctx context.Context) bool {
	if inc.cfg.Store == nil {
		return false
	}
	p, ok, err := inc.cfg.Store.GetPopulation(ctx, inc.cfg.PopulationID)
	if err != nil {
		inc.logger.Error("load population failed", slog.String("error", err.Error()))
		return false
	}
	if !ok {
		inc.logger.Warn("population not found")
		return false
	}

	restored := 0
	for _, rec := range p.Cultures {
		c, ok := inc.byName[rec.Name]
		if !ok {
			inc.logger.Warn("stored culture has no counterpart", slog.String("culture", rec.Name))
			continue
		}
		if err := c.Restore(rec.Generation, entitiesFromRecord(rec)); err != nil {
			inc.logger.Error("restore culture failed",
				slog.String("culture", rec.Name),
				slog.String("error", err.Error()),
			)
			continue
		}
		restored++
	}

	history, ok, err := inc.cfg.Store.GetChampions(ctx, p.ID)
	if err != nil {
		inc.logger.Warn("load champions failed", slog.String("error", err.Error()))
	} else if ok {
		inc.histMu.Lock()
		inc.history = history
		inc.histMu.Unlock()
	}

	inc.logger.Info("population loaded", slog.Int("restored", restored), slog.Int("cultures", len(inc.cultures)))
	return restored == len(inc.cultures)
}

func entitiesFromRecord(rec model.Culture) []*evo.Entity {
	out := make([]*evo.Entity, 0, len(rec.Entities))
	for _, e := range rec.Entities {
		out = append(out, &evo.Entity{
			ID:       e.ID,
			Genome:   genome.Genome(e.Genome),
			Fitness:  e.Fitness,
			Species:  e.Species,
			Children: e.Children,
		})
	}
	return out
}

// Record flattens c into a champion history row.
func (c Champion) Record() model.ChampionRecord {
	return model.ChampionRecord{
		Culture:    c.Culture,
		Generation: c.Generation,
		EntityID:   c.Entity.ID,
		Fitness:    c.Entity.Fitness,
		Species:    c.Entity.Species,
		Genes:      len(c.Entity.Genome),
	}
}
