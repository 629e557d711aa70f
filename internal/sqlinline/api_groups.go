package sqlinline

const QSelectGroupKeys = `--sql bdb2401b-245d-4255-9791-7f57ab945d84
select coalesce(api_keys, '{}'::text[])
from api_groups
where id = $1::bigint
limit 1;
`

const QSelectNamedGroupKeys = `--sql cbc4f4eb-ec76-4889-a344-04d783d89f83
select coalesce(api_keys, '{}'::text[])
from api_groups
where name = $1::text
limit 1;
`

const QUpsertNamedGroupKeys = `--sql 2d7dbc0e-16ea-47f4-a205-c7fe8f354be9
insert into api_groups (name, api_keys)
values ($1::text, $2::text[])
on conflict (name) do update set
    api_keys = excluded.api_keys
returning id;
`
